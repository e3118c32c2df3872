// Package ws carries a tab's frames over a websocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/hub"
	"github.com/DoyleJ11/challenge-zone-backend/internal/identity"
	"github.com/DoyleJ11/challenge-zone-backend/internal/pages"
	"github.com/DoyleJ11/challenge-zone-backend/internal/tab"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 3 * time.Second
)

type Options struct {
	// OriginPatterns are the cross origin hosts allowed to connect.
	OriginPatterns []string
	Logger         *zap.Logger
}

// Handler opens one tab per socket. The page comes from the "page" query
// parameter and the session from the cookie; a missing cookie still opens
// the tab, which then redirects to the entry page.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := zap.NewNop()
	if opts.Logger != nil {
		log = opts.Logger.Named("ws")
	}
	return func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page == "" {
			page = pages.Dashboard
		}
		if !pages.Known(page) {
			http.Error(w, "unknown page", http.StatusBadRequest)
			return
		}
		token, _ := identity.Token(r) // empty token: the tab redirects to login

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		t := h.Open(ctx, token, page)
		if t == nil {
			conn.Close(websocket.StatusTryAgainLater, "shutting down")
			return
		}
		defer h.Close(t.ID())

		out := make(chan types.ServerMessage, 32)
		clientID := uuid.NewString()
		if err := t.Send(ctx, tab.Join{ClientID: clientID, Outbox: out}); err != nil {
			return
		}
		defer func() {
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
			_ = t.Send(leaveCtx, tab.Leave{ClientID: clientID})
			leaveCancel()
		}()

		// Writer goroutine
		go func() {
			for msg := range out {
				payload, err := json.Marshal(msg)
				if err != nil {
					log.Warn("encode frame", zap.String("type", msg.Type), zap.Error(err))
					continue
				}
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err = conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					cancel()
					return
				}
			}
			// The tab closed our outbox: dropped as slow, or shut down.
			cancel()
		}()

		// Reader loop
		for {
			rctx, rcancel := context.WithTimeout(ctx, readTimeout)
			_, data, err := conn.Read(rctx)
			rcancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(ctx, conn, "bad json")
				continue
			}
			if err := t.Send(ctx, tab.FromClient{Message: cm}); err != nil {
				return
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: tab.FrameError, Error: msg})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

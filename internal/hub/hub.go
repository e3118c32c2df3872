// Package hub owns the set of open tabs. Like a tab, it is a single
// goroutine reading messages from an inbox.
package hub

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/tab"
)

type HubMsg interface{ isHubMsg() }

// OpenTab starts a tab for a new socket. Token is the session cookie value.
type OpenTab struct {
	Token string
	Page  string
	Reply chan *tab.Tab
}

type GetTab struct {
	ID    string
	Reply chan *tab.Tab
}

// CloseTab stops a tab and forgets it.
type CloseTab struct {
	ID string
}

type Count struct {
	Reply chan int
}

type ShutdownHub struct{}

func (OpenTab) isHubMsg()     {}
func (GetTab) isHubMsg()      {}
func (CloseTab) isHubMsg()    {}
func (Count) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox chan HubMsg
	tabs  map[string]*tab.Tab
	cfg   tab.Config
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, cfg tab.Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		tabs:   make(map[string]*tab.Tab),
		cfg:    cfg,
		log:    cfg.Logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after every tab has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Open asks the hub for a new tab. It returns nil once the hub is gone.
func (h *Hub) Open(ctx context.Context, token, page string) *tab.Tab {
	reply := make(chan *tab.Tab, 1)
	select {
	case h.inbox <- OpenTab{Token: token, Page: page, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case t := <-reply:
		return t
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Close forgets the tab and stops it. Safe after shutdown.
func (h *Hub) Close(id string) {
	select {
	case h.inbox <- CloseTab{ID: id}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case OpenTab:
				id := uuid.NewString()
				t := tab.New(h.ctx, id, msg.Token, msg.Page, h.cfg)
				h.tabs[id] = t
				h.log.Debug("tab opened", zap.String("tab_id", id), zap.String("page", msg.Page))
				msg.Reply <- t

			case GetTab:
				msg.Reply <- h.tabs[msg.ID] // May be nil

			case CloseTab:
				if t := h.tabs[msg.ID]; t != nil {
					t.Close()
					delete(h.tabs, msg.ID)
				}

			case Count:
				msg.Reply <- len(h.tabs)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// shutdown stops every tab and waits for them to exit.
func (h *Hub) shutdown() {
	for _, t := range h.tabs {
		t.Close()
	}
	for id, t := range h.tabs {
		<-t.Done()
		delete(h.tabs, id)
	}
	h.cancel()
}

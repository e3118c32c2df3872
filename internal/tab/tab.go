// Package tab is the server side of one browser tab: a goroutine that
// owns the tab's bus, session context and mounted page, and serializes
// client frames, timer callbacks and backend continuations through one
// inbox.
package tab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/bus"
	"github.com/DoyleJ11/challenge-zone-backend/internal/lifecycle"
	"github.com/DoyleJ11/challenge-zone-backend/internal/metrics"
	"github.com/DoyleJ11/challenge-zone-backend/internal/pages"
	"github.com/DoyleJ11/challenge-zone-backend/internal/session"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

// Frame types sent to the client.
const (
	FrameRender   = "Render"
	FrameEvent    = "Event"
	FrameRedirect = "Redirect"
	FrameError    = "Error"
)

type Msg interface{ isTabMsg() }

// FromClient is one decoded frame from the socket.
type FromClient struct {
	Message types.ClientMessage
}

func (FromClient) isTabMsg() {}

type Navigate struct{ Page string }

func (Navigate) isTabMsg() {}

type Join struct {
	ClientID string
	Outbox   chan types.ServerMessage // where this client receives frames
}

func (Join) isTabMsg() {}

type Leave struct{ ClientID string }

func (Leave) isTabMsg() {}

// Run executes Fn on the tab goroutine.
type Run struct{ Fn func() }

func (Run) isTabMsg() {}

type Shutdown struct{}

func (Shutdown) isTabMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isTabMsg() {}

type View struct {
	Version       int
	NumClients    int
	Page          string
	Phase         lifecycle.Phase
	UserID        string
	Authenticated bool
	// EventLog is the bus history; only kept when DebugEvents is on.
	EventLog []bus.Record
}

type Config struct {
	Backend        store.Backend
	Resolver       session.Resolver
	Pages          pages.Config
	AdminUsernames []string
	DebugEvents    bool
	HistoryLimit   int
	SessionWait    time.Duration
	Logger         *zap.Logger
}

// inbound are the event types a client may publish onto its tab's bus.
var inbound = map[string]bool{
	bus.TypeChallengeReveal:    true,
	bus.TypeChallengeComplete:  true,
	bus.TypeChallengeDeny:      true,
	bus.TypeAssignmentOpen:     true,
	bus.TypeAssignmentSubmit:   true,
	bus.TypeLeaderboardRefresh: true,
	bus.TypeNavMenuToggle:      true,
	bus.TypeUserLogout:         true,
}

// anonymous are the inbound types accepted without a logged-in session.
var anonymous = map[string]bool{
	bus.TypeNavMenuToggle: true,
	bus.TypeUserLogout:    true,
}

// outbound are forwarded to the client as Event frames.
var outbound = []string{
	bus.TypeChallengeCompletedSuccess,
	bus.TypeChallengeCompletedError,
	bus.TypeChallengeUpdated,
	bus.TypeChallengeLoading,
	bus.TypeUserLoaded,
	bus.TypeUserLoading,
	bus.TypeUserError,
	bus.TypeUserStatsUpdated,
	bus.TypeUserLogout,
	bus.TypeUserHeadshotUpdated,
	bus.TypeNavPageChange,
	bus.TypeNavMenuToggle,
	bus.TypeAppReady,
	bus.TypeAppError,
	bus.TypeAssignmentUpdated,
	bus.TypeAssignmentConflict,
}

var ErrClosed = errors.New("tab closed")

type Tab struct {
	id    string
	inbox chan Msg
	cfg   Config
	log   *zap.Logger

	bus      *bus.Bus
	sess     *session.Context
	flow     *session.Flow
	token    string
	page     lifecycle.Component
	pageName string

	version  int
	clients  map[string]chan types.ServerMessage
	sticky   *types.ServerMessage // latest render or redirect, replayed on Join
	forwards []bus.Unsubscribe

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a tab. It resolves token into a session and then mounts page.
func New(parent context.Context, id, token, page string, cfg Config) *Tab {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger.Named("tab").With(zap.String("tab_id", id))

	b := bus.New(bus.Options{Debug: cfg.DebugEvents, HistoryLimit: cfg.HistoryLimit, Logger: log})
	sess := session.NewContext(cfg.Backend)
	t := &Tab{
		id:      id,
		inbox:   make(chan Msg, 64),
		cfg:     cfg,
		log:     log,
		bus:     b,
		sess:    sess,
		flow:    session.NewFlow(sess, b, cfg.Resolver, cfg.AdminUsernames, cfg.Logger),
		token:   token,
		clients: make(map[string]chan types.ServerMessage),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, typ := range outbound {
		t.forwards = append(t.forwards, b.Subscribe(typ, t.forward))
	}

	metrics.OpenTabs.Inc()
	go t.loop(page)
	return t
}

func (t *Tab) ID() string { return t.id }

// Inbox exposes the inbox so the socket layer and tests can send messages.
func (t *Tab) Inbox() chan<- Msg { return t.inbox }

// Done is closed once the tab goroutine has exited.
func (t *Tab) Done() <-chan struct{} { return t.done }

// Send queues m unless the tab has stopped.
func (t *Tab) Send(ctx context.Context, m Msg) error {
	select {
	case t.inbox <- m:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the tab without blocking.
func (t *Tab) Close() { t.cancel() }

// Dispatch runs fn on the tab goroutine.
func (t *Tab) Dispatch(ctx context.Context, fn func()) bool {
	select {
	case t.inbox <- Run{Fn: fn}:
		return true
	case <-ctx.Done():
		return false
	case <-t.ctx.Done():
		return false
	}
}

func (t *Tab) loop(page string) {
	defer close(t.done)

	t.bootstrap()
	t.navigate(page)

	for {
		select {
		case <-t.ctx.Done():
			t.shutdown()
			return

		case m := <-t.inbox:
			switch msg := m.(type) {
			case Join:
				t.clients[msg.ClientID] = msg.Outbox
				if t.sticky != nil {
					msg.Outbox <- *t.sticky
				}

			case Leave:
				delete(t.clients, msg.ClientID)

			case FromClient:
				t.handleClient(msg.Message)

			case Navigate:
				t.navigate(msg.Page)

			case Run:
				msg.Fn()

			case GetState:
				st := t.sess.Current()
				v := View{
					Version:       t.version,
					NumClients:    len(t.clients),
					Page:          t.pageName,
					UserID:        st.UserID,
					Authenticated: st.Authenticated,
				}
				if base, ok := t.page.(interface{ Phase() lifecycle.Phase }); ok {
					v.Phase = base.Phase()
				}
				if t.bus.Debugging() {
					v.EventLog = t.bus.History().Records()
				}
				msg.Reply <- v

			case Shutdown:
				t.shutdown()
				return
			}
		}
	}
}

func (t *Tab) bootstrap() {
	if _, err := t.flow.Start(t.ctx, t.token); err != nil {
		t.log.Debug("session bootstrap failed", zap.Error(err))
	}
}

func (t *Tab) handleClient(m types.ClientMessage) {
	switch m.Type {
	case "Navigate":
		t.navigate(m.Page)
	case "Event":
		if !inbound[m.Event] {
			t.sendError("event not accepted: " + m.Event)
			return
		}
		if !anonymous[m.Event] && !t.sess.Authenticated() {
			t.sendError("not logged in")
			return
		}
		e, err := bus.Decode(m.Event, m.Detail)
		if err != nil {
			t.sendError(err.Error())
			return
		}
		if e.EventType() == bus.TypeUserLogout {
			t.logout()
			return
		}
		t.bus.Publish(e)
	case "Retry":
		t.retry()
	case "Ping":
	default:
		t.sendError("unknown type")
	}
}

// logout unmounts the page so nothing keeps acting for the old user.
func (t *Tab) logout() {
	if t.page != nil {
		t.page.Detach()
		t.page, t.pageName = nil, ""
	}
	t.flow.Logout()
	t.Redirect(lifecycle.EntryPath)
}

// retry runs the session bootstrap again after a backend failure and
// remounts the current page.
func (t *Tab) retry() {
	if t.sess.Authenticated() || !t.sess.Failed(session.ErrBackend) {
		t.sendError("nothing to retry")
		return
	}
	t.bootstrap()
	if t.pageName != "" {
		t.navigate(t.pageName)
	}
}

// navigate detaches the current page before attaching the next one.
func (t *Tab) navigate(page string) {
	next, err := pages.New(page, t.cfg.Pages, lifecycle.Deps{
		Bus:         t.bus,
		Session:     t.sess,
		Dispatcher:  t,
		Renderer:    t,
		Redirector:  t,
		Logger:      t.cfg.Logger,
		SessionWait: t.cfg.SessionWait,
	})
	if err != nil {
		t.sendError(err.Error())
		return
	}
	if t.page != nil {
		t.page.Detach()
	}
	t.page, t.pageName = next, page
	if err := next.Attach(t.ctx); err != nil {
		t.log.Warn("attach page", zap.String("page", page), zap.Error(err))
		t.sendError(err.Error())
		return
	}
	t.bus.Publish(bus.NewNavPageChange(page))
}

func (t *Tab) Render(page string, view any) {
	msg := types.ServerMessage{Type: FrameRender, Page: page, View: view}
	t.broadcast(msg, true)
}

func (t *Tab) Redirect(to string) {
	t.broadcast(types.ServerMessage{Type: FrameRedirect, To: to}, true)
}

func (t *Tab) forward(e bus.Event) {
	t.broadcast(types.ServerMessage{Type: FrameEvent, Event: e.EventType(), Detail: e}, false)
}

func (t *Tab) sendError(msg string) {
	t.broadcast(types.ServerMessage{Type: FrameError, Error: msg}, false)
}

func (t *Tab) broadcast(msg types.ServerMessage, sticky bool) {
	t.version++
	msg.Version = t.version
	if sticky {
		t.sticky = &msg
	}
	for id, ch := range t.clients {
		select {
		case ch <- msg:
			// ok
		default:
			// Client is slow/full - drop them.
			t.log.Info("dropping slow client", zap.String("client_id", id))
			close(ch)
			delete(t.clients, id)
		}
	}
}

func (t *Tab) shutdown() {
	if t.page != nil {
		t.page.Detach()
		t.page = nil
	}
	for _, unsubscribe := range t.forwards {
		unsubscribe()
	}
	t.forwards = nil
	for id, ch := range t.clients {
		close(ch) // Tell client no more frames
		delete(t.clients, id)
	}
	t.cancel()
	metrics.OpenTabs.Dec()
}

// Package lifecycle is the contract every page controller follows:
// Constructed, Attached, Ready, Detached. Base tracks what a component
// acquires while attached and releases all of it on Detach.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/bus"
	"github.com/DoyleJ11/challenge-zone-backend/internal/session"
)

// ErrDetached is returned when a detached component is attached again.
var ErrDetached = errors.New("component detached")

// EntryPath is where terminal session failures send the client.
const EntryPath = "/"

// SessionErrorView is rendered in place of a page when its session could
// not be loaded for a reason other than authentication. The client offers
// a retry.
type SessionErrorView struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type Component interface {
	Attach(ctx context.Context) error
	Detach()
}

type Phase int

const (
	Constructed Phase = iota
	Attached
	Ready
	Detached
)

func (p Phase) String() string {
	switch p {
	case Constructed:
		return "constructed"
	case Attached:
		return "attached"
	case Ready:
		return "ready"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// Dispatcher runs fn on the owner's goroutine. It returns false when fn
// could not be queued before ctx ended or the owner stopped.
type Dispatcher interface {
	Dispatch(ctx context.Context, fn func()) bool
}

type Renderer interface {
	Render(page string, view any)
}

type Redirector interface {
	Redirect(to string)
}

// Deps are the shared services a component is constructed with.
type Deps struct {
	Bus        *bus.Bus
	Session    *session.Context
	Dispatcher Dispatcher
	Renderer   Renderer
	Redirector Redirector
	Logger     *zap.Logger
	// SessionWait is how often a suspended component logs that it is still
	// waiting for the session.
	SessionWait time.Duration
}

// Base implements the bookkeeping half of Component. Embedders call Begin
// from Attach and leave Detach to Base.
type Base struct {
	name string
	deps Deps
	log  *zap.Logger

	mu       sync.Mutex
	phase    Phase
	subs     []bus.Unsubscribe
	renderer Renderer
	ctx      context.Context
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

func NewBase(name string, deps Deps) *Base {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SessionWait <= 0 {
		deps.SessionWait = 5 * time.Second
	}
	return &Base{
		name: name,
		deps: deps,
		log:  deps.Logger.Named("page").With(zap.String("page", name)),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Deps() Deps { return b.deps }

func (b *Base) Logger() *zap.Logger { return b.log }

func (b *Base) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Begin moves a constructed component to Attached. first is false for a
// repeated Attach, which must not register anything again.
func (b *Base) Begin(ctx context.Context) (first bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.phase {
	case Detached:
		return false, ErrDetached
	case Attached, Ready:
		return false, nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.renderer = b.deps.Renderer
	b.phase = Attached
	return true, nil
}

// MarkReady records that the initial render happened.
func (b *Base) MarkReady() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == Attached {
		b.phase = Ready
	}
}

func (b *Base) live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase == Attached || b.phase == Ready
}

// Context is cancelled at Detach.
func (b *Base) Context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Subscribe registers h for the component's lifetime.
func (b *Base) Subscribe(eventType string, h bus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != Attached && b.phase != Ready {
		return
	}
	b.subs = append(b.subs, b.deps.Bus.Subscribe(eventType, h))
}

func (b *Base) Publish(e bus.Event) {
	b.deps.Bus.Publish(e)
}

func (b *Base) Render(view any) {
	b.mu.Lock()
	r := b.renderer
	b.mu.Unlock()
	if r != nil {
		r.Render(b.name, view)
	}
}

func (b *Base) Redirect(to string) {
	if b.deps.Redirector != nil {
		b.deps.Redirector.Redirect(to)
	}
}

// Async runs work off the owner goroutine and dispatches the returned
// continuation back onto it. The continuation is dropped if the
// component was detached in the meantime.
func (b *Base) Async(work func(ctx context.Context) func()) {
	b.mu.Lock()
	if b.phase != Attached && b.phase != Ready {
		b.mu.Unlock()
		return
	}
	ctx := b.ctx
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		then := work(ctx)
		if then == nil || ctx.Err() != nil {
			return
		}
		b.deps.Dispatcher.Dispatch(ctx, func() {
			if b.live() {
				then()
			}
		})
	}()
}

// Every runs fn on the owner goroutine every interval until Detach.
func (b *Base) Every(interval time.Duration, fn func()) {
	b.mu.Lock()
	if (b.phase != Attached && b.phase != Ready) || interval <= 0 {
		b.mu.Unlock()
		return
	}
	ctx := b.ctx
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.deps.Dispatcher.Dispatch(ctx, func() {
					if b.live() {
						fn()
					}
				})
			}
		}
	}()
}

// AwaitSession suspends until the session resolves and then calls onReady
// on the owner goroutine. An authentication failure publishes user:error
// and redirects to the entry path; a backend failure renders
// SessionErrorView and leaves the client where it is.
func (b *Base) AwaitSession(onReady func(session.State)) {
	b.Async(func(ctx context.Context) func() {
		for {
			waitCtx, cancel := context.WithTimeout(ctx, b.deps.SessionWait)
			st, err := b.deps.Session.Ready(waitCtx)
			cancel()
			switch {
			case err == nil:
				return func() { onReady(st) }
			case errors.Is(err, session.ErrUnavailable):
				if ctx.Err() != nil {
					return nil
				}
				b.log.Debug("still waiting for session")
			case errors.Is(err, session.ErrBackend):
				return func() { b.sessionUnavailable(err) }
			default:
				return func() { b.failSession(err) }
			}
		}
	})
}

// The auth flow has already published user:error for this attempt.
func (b *Base) sessionUnavailable(err error) {
	b.log.Warn("session backend failed", zap.Error(err))
	b.Render(SessionErrorView{Error: "Failed to load your profile. Please try again.", Retryable: true})
}

func (b *Base) failSession(err error) {
	b.log.Info("session failed", zap.Error(err))
	b.Publish(bus.NewUserError("Please log in again."))
	b.Redirect(EntryPath)
}

// Detach releases every subscription, stops timers and pending work, and
// drops the renderer. Later calls are no-ops.
func (b *Base) Detach() {
	b.mu.Lock()
	if b.phase == Detached {
		b.mu.Unlock()
		return
	}
	prev := b.phase
	b.phase = Detached
	subs := b.subs
	b.subs = nil
	b.renderer = nil
	cancel := b.cancel
	b.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	if prev != Constructed {
		b.log.Debug("detached", zap.Int("subscriptions", len(subs)))
	}
}

// SubscriptionCount reports the live subscriptions held by the component.
func (b *Base) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

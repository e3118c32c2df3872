// Package session holds the per-tab session context: who is logged in and
// the backend handle every page reads. Only the auth Flow writes it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

var (
	// ErrUnavailable is returned when the caller stops waiting before the
	// session resolves.
	ErrUnavailable = errors.New("session unavailable")
	// ErrAuthentication is terminal: the identity could not be resolved.
	ErrAuthentication = errors.New("authentication failed")
	// ErrBackend means the profile could not be loaded. The identity may be
	// fine; a new attempt can succeed.
	ErrBackend = errors.New("session backend unavailable")
)

// State is an immutable snapshot of the session.
type State struct {
	UserID        string
	User          types.User
	Authenticated bool
	IsAdmin       bool
	Backend       store.Backend
}

// Context is read by every controller of a tab. Writes swap the whole
// State pointer so readers never see a partial update.
type Context struct {
	backend store.Backend
	state   atomic.Pointer[State]

	mu      sync.Mutex
	settled chan struct{} // closed once the current attempt resolves or fails
	err     error
}

func NewContext(backend store.Backend) *Context {
	c := &Context{backend: backend, settled: make(chan struct{})}
	c.state.Store(&State{Backend: backend})
	return c
}

// Current returns the latest snapshot without waiting.
func (c *Context) Current() State {
	return *c.state.Load()
}

func (c *Context) Backend() store.Backend { return c.backend }

func (c *Context) UserID() string { return c.state.Load().UserID }

func (c *Context) Authenticated() bool { return c.state.Load().Authenticated }

// Ready blocks until the session resolves or fails terminally. It returns
// ErrUnavailable if ctx ends first.
func (c *Context) Ready(ctx context.Context) (State, error) {
	c.mu.Lock()
	settled := c.settled
	c.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
		return State{}, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}

	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return State{}, err
	}
	return c.Current(), nil
}

// Settled reports whether the current attempt has finished, successfully
// or not.
func (c *Context) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.settled:
		return true
	default:
		return false
	}
}

// Failed reports whether the current attempt settled with an error
// matching target.
func (c *Context) Failed(target error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.settled:
		return c.err != nil && errors.Is(c.err, target)
	default:
		return false
	}
}

// begin starts a new attempt; waiters of a previous attempt have already
// been released.
func (c *Context) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.settled:
		c.settled = make(chan struct{})
	default:
	}
	c.err = nil
	c.state.Store(&State{Backend: c.backend})
}

func (c *Context) resolve(s State) {
	s.Backend = c.backend
	c.state.Store(&s)
	c.settle(nil)
}

func (c *Context) fail(err error) {
	c.state.Store(&State{Backend: c.backend})
	c.settle(err)
}

func (c *Context) settle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	select {
	case <-c.settled:
	default:
		close(c.settled)
	}
}

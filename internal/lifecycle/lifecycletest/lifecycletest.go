// Package lifecycletest provides an owner loop and recording sinks for
// testing components outside a tab.
package lifecycletest

import (
	"context"
	"sync"
	"time"
)

// Loop is a single goroutine that runs dispatched functions in order,
// standing in for a tab's inbox.
type Loop struct {
	fns  chan func()
	done chan struct{}
	once sync.Once
}

func NewLoop() *Loop {
	l := &Loop{fns: make(chan func(), 64), done: make(chan struct{})}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.fns:
			fn()
		case <-l.done:
			return
		}
	}
}

func (l *Loop) Dispatch(ctx context.Context, fn func()) bool {
	select {
	case l.fns <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(fn func()) {
	finished := make(chan struct{})
	l.fns <- func() {
		defer close(finished)
		fn()
	}
	<-finished
}

// Eventually polls cond on the loop until it holds or within elapses.
func (l *Loop) Eventually(cond func() bool, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for {
		var ok bool
		l.Do(func() { ok = cond() })
		if ok {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Frame is one recorded render or redirect.
type Frame struct {
	Page string
	View any
	To   string
}

// Sink records renders and redirects.
type Sink struct {
	mu        sync.Mutex
	renders   []Frame
	redirects []string
}

func (s *Sink) Render(page string, view any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = append(s.renders, Frame{Page: page, View: view})
}

func (s *Sink) Redirect(to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects = append(s.redirects, to)
}

func (s *Sink) Renders() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.renders...)
}

// LastView returns the most recent rendered view, or nil.
func (s *Sink) LastView() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.renders) == 0 {
		return nil
	}
	return s.renders[len(s.renders)-1].View
}

func (s *Sink) Redirects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.redirects...)
}

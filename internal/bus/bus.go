package bus

import (
	"regexp"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/metrics"
)

// DefaultHistoryLimit caps the debug history when Options.HistoryLimit is unset.
const DefaultHistoryLimit = 500

// Handler is a function that handles an event.
type Handler func(Event)

// Unsubscribe removes exactly one registration. Calling it more than once
// is a no-op.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
}

// Options configures a Bus.
type Options struct {
	// Debug enables the publish history and payload shape checks.
	Debug bool
	// HistoryLimit bounds the debug history (oldest records are dropped).
	HistoryLimit int
	Logger       *zap.Logger
}

// Bus is a synchronous pub-sub hub for one tab. Handlers run on the
// publishing goroutine in registration order.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64

	log     *zap.Logger
	debug   bool
	history *History
}

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*:[a-z][a-z0-9-]*$`)

// ValidType reports whether eventType follows the "<domain>:<action>" form.
func ValidType(eventType string) bool {
	return typePattern.MatchString(eventType)
}

// New creates a bus.
func New(opts Options) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]subscription),
		log:           opts.Logger,
		debug:         opts.Debug,
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	if opts.Debug {
		limit := opts.HistoryLimit
		if limit <= 0 {
			limit = DefaultHistoryLimit
		}
		b.history = newHistory(limit)
	}
	return b
}

// Subscribe registers handler for eventType. Matching is exact: there are
// no wildcards. An empty type or nil handler registers nothing and the
// returned Unsubscribe does nothing.
func (b *Bus) Subscribe(eventType string, handler Handler) Unsubscribe {
	if eventType == "" || handler == nil {
		return func() {}
	}
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

func (b *Bus) remove(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[eventType]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		// Copy rather than re-slice in place: publishers may still hold
		// the old backing array as their snapshot.
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.subscriptions, eventType)
		} else {
			b.subscriptions[eventType] = next
		}
		return
	}
}

// Publish delivers e to every handler registered for its type at the time
// of the call. A panicking handler is logged and skipped. Events with a
// malformed type are dropped.
func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}
	eventType := e.EventType()
	if !ValidType(eventType) {
		b.log.Debug("dropping event with malformed type", zap.String("type", eventType))
		return
	}

	if b.debug {
		b.checkShape(e)
		b.history.add(Record{EventType: eventType, Detail: e, Timestamp: e.Timestamp()})
		b.log.Debug("event", zap.String("type", eventType), zap.Any("detail", e))
	}
	metrics.EventsPublished.WithLabelValues(metricLabel(eventType)).Inc()

	b.mu.RLock()
	snapshot := b.subscriptions[eventType]
	b.mu.RUnlock()

	for _, sub := range snapshot {
		b.safeCall(sub.handler, e)
	}
}

// Emit publishes an untyped detail payload under eventType.
func (b *Bus) Emit(eventType string, detail any) {
	b.Publish(NewMessage(eventType, detail))
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(metricLabel(e.EventType())).Inc()
			b.log.Error("event handler panicked",
				zap.String("type", e.EventType()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	handler(e)
}

func (b *Bus) checkShape(e Event) {
	want, ok := registry[e.EventType()]
	if !ok {
		return
	}
	if got := typeOf(e); got != want {
		b.log.Warn("event payload does not match its registered shape",
			zap.String("type", e.EventType()),
			zap.String("got", got.String()),
			zap.String("want", want.String()),
		)
	}
}

// History returns the debug history, or nil when debugging is off.
func (b *Bus) History() *History {
	return b.history
}

// Debugging reports whether the bus records history.
func (b *Bus) Debugging() bool { return b.debug }

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

func metricLabel(eventType string) string {
	if _, ok := registry[eventType]; ok {
		return eventType
	}
	return "other"
}

package bus

import (
	"sync"
	"time"
)

// Record is one published event kept by the debug history.
type Record struct {
	EventType string    `json:"type"`
	Detail    Event     `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a bounded, ordered log of published events.
type History struct {
	mu      sync.Mutex
	limit   int
	records []Record
}

func newHistory(limit int) *History {
	return &History{limit: limit}
}

func (h *History) add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == h.limit {
		copy(h.records, h.records[1:])
		h.records = h.records[:len(h.records)-1]
	}
	h.records = append(h.records, r)
}

// Records returns a copy of the history, oldest first.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Clear drops every record.
func (h *History) Clear() {
	h.mu.Lock()
	h.records = nil
	h.mu.Unlock()
}

// Len returns the number of records held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

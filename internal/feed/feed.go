// Package feed is an in-process pub/sub hub for engine activity events.
// Publish never blocks: a subscriber whose buffer is full misses the
// event, and the drop is counted.
package feed

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the engine.
const (
	TypeNavigation        = "navigation"
	TypePrefetchSucceeded = "prefetch_succeeded"
	TypePrefetchAbandoned = "prefetch_abandoned"
	TypeUpdateApplied     = "update_applied"
	TypeUpdateRolledBack  = "update_rolled_back"
)

// Event is one activity feed entry.
type Event struct {
	Type    string    `json:"type"`
	Route   string    `json:"route,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Hub fans events out to subscribers.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel function. buffer
// bounds how far the subscriber may fall behind before it drops events.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were lost to full subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

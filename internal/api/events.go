package api

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one notification pushed to /api/events subscribers.
type Event struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data,omitempty"`
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish sends an event of type typ to every subscriber.
func (h *Hub) Publish(typ string, data any) {
	ev := Event{Type: typ, Time: time.Now().UnixMilli(), Data: data}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with room for buf pending events. The
// returned cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

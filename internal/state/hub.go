package state

import (
	"context"
	"sync"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const defaultHubBuffer = 8

// Hub is an in-process publish/subscribe channel for state changes. A slow
// subscriber loses changes instead of blocking updates; observers recover by
// re-reading the store.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	closed bool
}

type subscriber struct {
	key  string
	ch   chan model.StateChange
	once sync.Once
}

func (s *subscriber) finish() {
	s.once.Do(func() { close(s.ch) })
}

// Subscription receives changes until closed.
type Subscription struct {
	C     <-chan model.StateChange
	close func()
}

// Close stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.close()
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &Hub{subs: make(map[uint64]*subscriber), buffer: buffer}
}

// Subscribe registers an observer for key; an empty key observes every key.
func (h *Hub) Subscribe(key string) *Subscription {
	sub := &subscriber{key: key, ch: make(chan model.StateChange, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.finish()
		return &Subscription{C: sub.ch, close: func() {}}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		close: func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			sub.finish()
		},
	}
}

// Close ends every subscription and rejects new ones, so long-lived
// observers return during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
}

// Notify implements Notifier without ever blocking.
func (h *Hub) Notify(_ context.Context, change model.StateChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.key != "" && sub.key != change.Key {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			metrics.StateNotificationsDropped.Inc()
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

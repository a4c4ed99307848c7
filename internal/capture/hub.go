package capture

import (
	"sync"

	"firestige.xyz/bcrelay/internal/core"
)

// Hub fans frames out to subscribers. Publish calls handlers inline, on the
// caller's goroutine, in subscription order.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []hubEntry
}

type hubEntry struct {
	id uint64
	fn FrameHandler
}

type hubSubscription struct {
	once sync.Once
	hub  *Hub
	id   uint64
}

// Subscribe registers fn until the returned Subscription is closed.
func (h *Hub) Subscribe(fn FrameHandler) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	h.handlers = append(h.handlers, hubEntry{id: h.nextID, fn: fn})
	return &hubSubscription{hub: h, id: h.nextID}
}

func (s *hubSubscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, e := range h.handlers {
		if e.id == id {
			h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers frame to every current subscriber and returns how many
// handlers were called.
func (h *Hub) Publish(frame core.Frame) int {
	h.mu.RLock()
	snapshot := h.handlers
	h.mu.RUnlock()

	for _, e := range snapshot {
		e.fn(frame)
	}
	return len(snapshot)
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Package event provides the broadcast plumbing shared by the session engine
// and the prediction aggregator. Subscribers get a buffered channel; slow
// consumers have their oldest pending event dropped rather than blocking the
// publisher.
package event

import "sync"

// Hub fans out values of type T to all current subscribers.
type Hub[T any] struct {
	mu          sync.Mutex
	subscribers map[chan T]struct{}
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subscribers: make(map[chan T]struct{})}
}

// Subscribe registers a new listener. The caller must invoke the returned
// cancel function to avoid leaks.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 16)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers v to every subscriber, evicting the oldest pending event
// for any subscriber whose buffer is full.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

package device

import (
	"context"
	"sync"

	"github.com/srg/gattkit/internal/ringchan"
)

// DefaultHubBuffer is the per-subscriber buffer used by NewHub when size <= 0.
const DefaultHubBuffer = 64

// Hub fans one event source out to context-scoped subscribers. Backends use it to
// implement Events subscriptions. Publish never blocks: a subscriber that falls more than
// its buffer behind loses its oldest events.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*ringchan.RingChannel[T]
	nextID uint64
	buffer int
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer events each.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	return &Hub[T]{subs: make(map[uint64]*ringchan.RingChannel[T]), buffer: buffer}
}

// Subscribe returns a channel receiving every event published after the call. The channel
// is closed when ctx ends or the hub is closed.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	rc := ringchan.New[T](h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		rc.Close()
		return rc.C()
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = rc
	h.mu.Unlock()

	context.AfterFunc(ctx, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		rc.Close()
	})
	return rc.C()
}

// Publish delivers v to every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rc := range h.subs {
		rc.Send(v)
	}
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions receive a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, rc := range h.subs {
		rc.Close()
		delete(h.subs, id)
	}
}

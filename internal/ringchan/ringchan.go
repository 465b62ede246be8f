// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded buffer that behaves like a receive channel for consumers and
// never blocks producers: when the buffer is full the oldest element is discarded to make
// room for the new one.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
//
// Send and Close are safe to call concurrently; a Send racing a Close is dropped.
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
	rejected    atomic.Int64
	received    atomic.Int64
}

// New creates a RingChannel holding at most capacity elements.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed after Close once drained.
// Reads through C are not counted in Metrics.Received.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send enqueues v, evicting the oldest element when full.
// Returns false when the channel is already closed.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.rejected.Add(1)
		return false
	}

	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
		default:
			// consumer drained it in between
		}
		rc.ch <- v
	}
	rc.written.Add(1)
	return true
}

// TrySend enqueues v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.rejected.Add(1)
		return false
	}

	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until an element is available; ok is false once closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.received.Add(1)
	}
	return v, ok
}

// TryReceive returns immediately with ok=false when nothing is buffered.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.received.Add(1)
		}
		return v, ok
	default:
		return v, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close stops accepting elements. Buffered elements remain readable. Idempotent.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Closed reports whether Close was called.
func (rc *RingChannel[T]) Closed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

// Metrics is a point-in-time snapshot of channel counters.
type Metrics struct {
	Written     int64 // accepted by Send/TrySend
	Overwritten int64 // evicted to make room
	Rejected    int64 // sent after Close
	Received    int64 // taken through Receive/TryReceive
}

// Metrics returns the current counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Rejected:    rc.rejected.Load(),
		Received:    rc.received.Load(),
	}
}

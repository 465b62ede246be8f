package device

import (
	"context"
	"errors"
	"io"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/groutine"
)

// Stream is a lazily started, pull-driven sequence of live values (adapter events, scan
// results, notifications).
//
// The producer behind a stream starts on the first Next (or C/All) and is torn down
// exactly once when any of the following happens: Close is called, the context the
// stream was created with ends, the consumer breaks out of an All loop, the producer
// fails, or the Stream becomes unreachable without being closed. Teardown hooks (stopping
// a radio scan, disabling notifications) run on every one of those paths.
//
// After the producer ends, Next returns io.EOF for a normal end or the terminal error
// that stopped it.
type Stream[T any] struct {
	*streamState[T]
}

type streamState[T any] struct {
	name   string
	logger *logrus.Logger

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	produce func(ctx context.Context, e *Emitter[T]) error
	hooks   []func()

	req  chan struct{}
	out  chan T
	done chan struct{}

	startOnce sync.Once
	pumpOnce  sync.Once
	pumped    chan T

	closed  atomic.Bool
	dropped atomic.Int64
	err     error // written once before done is closed
}

// Emitter is the producer side of a Stream.
type Emitter[T any] struct {
	st   *streamState[T]
	held bool
}

func newStream[T any](ctx context.Context, name string, logger *logrus.Logger,
	produce func(ctx context.Context, e *Emitter[T]) error, hooks ...func()) *Stream[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sctx, cancel := context.WithCancel(ctx)
	st := &streamState[T]{
		name:    name,
		logger:  logger,
		parent:  ctx,
		ctx:     sctx,
		cancel:  cancel,
		produce: produce,
		hooks:   hooks,
		req:     make(chan struct{}, 1),
		out:     make(chan T),
		done:    make(chan struct{}),
	}

	// A stream whose context ends before anyone pulled from it still owes its teardown.
	context.AfterFunc(sctx, func() {
		st.startOnce.Do(func() { st.finish(sctx.Err()) })
	})

	s := &Stream[T]{st}
	runtime.AddCleanup(s, func(st *streamState[T]) {
		if st.closed.CompareAndSwap(false, true) {
			st.logger.WithField("stream", st.name).Debug("Stream abandoned without Close, tearing down")
			st.cancel()
		}
	}, st)
	return s
}

func (st *streamState[T]) start() {
	st.startOnce.Do(func() {
		groutine.Go(st.ctx, "stream-"+st.name, func(ctx context.Context) {
			err := st.produce(ctx, &Emitter[T]{st: st})
			st.finish(err)
		})
	})
}

func (st *streamState[T]) finish(err error) {
	switch {
	case st.closed.Load():
		err = nil
	case st.parent.Err() != nil:
		err = st.parent.Err()
	case errors.Is(err, context.Canceled):
		err = nil
	}
	if err != nil {
		st.logger.WithFields(logrus.Fields{
			"stream": st.name,
			"error":  err,
		}).Debug("Stream terminated with error")
	}
	st.err = err
	st.cancel()

	for i := len(st.hooks) - 1; i >= 0; i-- {
		st.hooks[i]()
	}
	close(st.done)
}

func (st *streamState[T]) shutdown() {
	st.closed.Store(true)
	st.cancel()
	<-st.done
}

// Next blocks until the next value, the end of the stream, or the end of ctx.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	return s.next(ctx)
}

func (st *streamState[T]) next(ctx context.Context) (T, error) {
	var zero T
	st.start()

	select {
	case st.req <- struct{}{}:
	case <-st.done:
		return zero, st.terminal()
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-st.out:
		return v, nil
	case <-st.done:
		return zero, st.terminal()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (st *streamState[T]) terminal() error {
	if st.err != nil {
		return st.err
	}
	return io.EOF
}

// C returns a channel fed from the stream, closed when the stream ends. Do not mix C with
// Next on the same stream.
func (s *Stream[T]) C() <-chan T {
	st := s.streamState
	st.pumpOnce.Do(func() {
		st.pumped = make(chan T)
		groutine.Go(st.ctx, "stream-pump-"+st.name, func(ctx context.Context) {
			defer close(st.pumped)
			for {
				v, err := st.next(ctx)
				if err != nil {
					return
				}
				select {
				case st.pumped <- v:
				case <-ctx.Done():
					return
				}
			}
		})
	})
	return st.pumped
}

// All adapts the stream to a range-over-func loop. Breaking out of the loop closes the
// stream. A terminal error is yielded as the final element; a normal end is not.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer s.Close()
		for {
			v, err := s.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					var zero T
					yield(zero, err)
				}
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Close stops the producer and waits for its teardown. Safe to call more than once and
// concurrently with Next.
func (s *Stream[T]) Close() {
	s.shutdown()
}

// Done is closed once the stream has ended and its teardown has run.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Err returns the terminal error once Done is closed; nil for a normal end.
func (s *Stream[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Dropped counts values discarded because the consumer fell behind.
func (s *Stream[T]) Dropped() int64 { return s.dropped.Load() }

// Context is cancelled when the stream ends.
func (e *Emitter[T]) Context() context.Context { return e.st.ctx }

// Demand blocks until the consumer asks for the next value. It returns false when the
// stream is ending. Producers call it before starting expensive work so that nothing
// happens unless a value is actually wanted.
func (e *Emitter[T]) Demand() bool {
	if e.held {
		return true
	}
	select {
	case <-e.st.req:
		e.held = true
		return true
	case <-e.st.ctx.Done():
		return false
	}
}

// Emit waits for demand and hands v to the consumer. It returns false when the stream is
// ending and the producer should return.
func (e *Emitter[T]) Emit(v T) bool {
	if !e.Demand() {
		return false
	}
	select {
	case e.st.out <- v:
		e.held = false
		return true
	case <-e.st.ctx.Done():
		return false
	}
}

// AddDropped records n more values lost to overflow.
func (e *Emitter[T]) AddDropped(n int64) { e.st.dropped.Add(n) }

// SetDropped replaces the overflow count with a producer-side total.
func (e *Emitter[T]) SetDropped(n int64) { e.st.dropped.Store(n) }

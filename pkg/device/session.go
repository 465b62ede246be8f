package device

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// Session binds one opened Backend to the Adapter handles vended from it.
type Session struct {
	backend  Backend
	opts     Options
	logger   *logrus.Logger
	adapters *hashmap.Map[string, *Adapter]
	closed   atomic.Bool
}

var (
	defaultSession atomic.Pointer[Session]
	defaultOptions atomic.Pointer[Options]
)

// SetDefaultOptions configures the process-wide session. It only has an effect before the
// first DefaultSession/DefaultAdapter call.
func SetDefaultOptions(opts Options) {
	defaultOptions.Store(&opts)
}

// NewSession opens a backend with opts and returns a session owned by the caller.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	b, err := openBackend(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewSessionWithBackend(b, opts), nil
}

// NewSessionWithBackend wraps an already opened backend.
func NewSessionWithBackend(b Backend, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		backend:  b,
		opts:     opts,
		logger:   opts.Logger,
		adapters: hashmap.New[string, *Adapter](),
	}
}

// DefaultSession returns the process-wide session, opening it on first use.
//
// Concurrent first callers may each open a backend; exactly one session is published and
// the others are closed without surfacing any error, so every caller ends up with the same
// session.
func DefaultSession(ctx context.Context) (*Session, error) {
	if s := defaultSession.Load(); s != nil {
		return s, nil
	}

	var opts Options
	if o := defaultOptions.Load(); o != nil {
		opts = *o
	}
	s, err := NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}

	if defaultSession.CompareAndSwap(nil, s) {
		s.logger.WithField("backend", s.backend.Name()).Debug("Default session initialized")
		return s, nil
	}

	if err := s.backend.Close(); err != nil {
		s.logger.WithField("error", err).Debug("Discarded redundant session closed with error")
	}
	return defaultSession.Load(), nil
}

// DefaultAdapter returns the primary radio of the process-wide session, or ErrNoAdapter.
func DefaultAdapter(ctx context.Context) (*Adapter, error) {
	s, err := DefaultSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.DefaultAdapter(ctx)
}

// Backend returns the name of the backend behind the session.
func (s *Session) Backend() string { return s.backend.Name() }

// DefaultAdapter returns the primary radio. Every call yields the same *Adapter for the
// same radio.
func (s *Session) DefaultAdapter(ctx context.Context) (*Adapter, error) {
	if s.closed.Load() {
		return nil, NewError(Internal, "session is closed")
	}
	ab, err := s.backend.DefaultAdapter(ctx)
	if err != nil {
		return nil, err
	}
	if ab == nil {
		return nil, ErrNoAdapter
	}

	a, loaded := s.adapters.GetOrInsert(ab.ID(), newAdapter(s, ab))
	if !loaded {
		s.logger.WithFields(logrus.Fields{
			"backend": s.backend.Name(),
			"adapter": ab.ID(),
		}).Debug("Adapter opened")
	}
	return a, nil
}

// Close releases the backend. Streams and devices obtained from the session stop working.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.adapters.Range(func(_ string, a *Adapter) bool {
		a.close()
		return true
	})
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("failed to close %s backend: %w", s.backend.Name(), err)
	}
	return nil
}

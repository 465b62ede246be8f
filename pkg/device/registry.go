package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

type registeredBackend struct {
	name     string
	priority int
	factory  BackendFactory
}

var (
	backends   = hashmap.New[string, registeredBackend]()
	registerMu sync.Mutex
)

// RegisterBackend makes a backend available under name. Backends call it from init and
// are linked in with a blank import. Higher priority backends are tried first when no
// backend is named explicitly. Registering a name twice panics.
func RegisterBackend(name string, priority int, factory BackendFactory) {
	registerMu.Lock()
	defer registerMu.Unlock()

	if factory == nil {
		panic("device: RegisterBackend factory is nil")
	}
	if _, loaded := backends.GetOrInsert(name, registeredBackend{name: name, priority: priority, factory: factory}); loaded {
		panic("device: RegisterBackend called twice for backend " + name)
	}
}

// Backends lists registered backend names, highest priority first.
func Backends() []string {
	regs := sortedBackends()
	names := make([]string, 0, len(regs))
	for _, r := range regs {
		names = append(names, r.name)
	}
	return names
}

func sortedBackends() []registeredBackend {
	var regs []registeredBackend
	backends.Range(func(_ string, r registeredBackend) bool {
		regs = append(regs, r)
		return true
	})
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].name < regs[j].name
	})
	return regs
}

// openBackend opens the named backend, or the first registered one that opens cleanly.
func openBackend(ctx context.Context, opts Options) (Backend, error) {
	bopts := BackendOptions{Logger: opts.Logger, AdapterName: opts.AdapterName}

	if opts.Backend != "" {
		r, ok := backends.Get(opts.Backend)
		if !ok {
			return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, opts.Backend, Backends())
		}
		return r.factory(ctx, bopts)
	}

	regs := sortedBackends()
	if len(regs) == 0 {
		return nil, fmt.Errorf("%w: no backend registered", ErrUnknownBackend)
	}

	var errs []error
	for _, r := range regs {
		b, err := r.factory(ctx, bopts)
		if err == nil {
			return b, nil
		}
		opts.Logger.WithFields(logrus.Fields{
			"backend": r.name,
			"error":   err,
		}).Debug("Backend unavailable, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
	}
	return nil, errors.Join(errs...)
}

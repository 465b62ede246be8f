package bluez

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/groutine"
)

// signalRouter fans BlueZ signals out to watchers of an object subtree. One D-Bus signal
// channel serves the whole session.
type signalRouter struct {
	logger   *logrus.Logger
	watchers *hashmap.Map[uint64, *watcher]
	nextID   atomic.Uint64

	startOnce sync.Once
	ch        chan *dbus.Signal
}

type watcher struct {
	root dbus.ObjectPath
	fn   func(*dbus.Signal)
}

func newSignalRouter(logger *logrus.Logger) *signalRouter {
	return &signalRouter{
		logger:   logger,
		watchers: hashmap.New[uint64, *watcher](),
		ch:       make(chan *dbus.Signal, 256),
	}
}

// watch calls fn for every signal about root or an object below it until ctx ends. For
// ObjectManager signals the object is taken from the body, not the emitting path.
// fn runs on the router goroutine and must not block.
func (r *signalRouter) watch(ctx context.Context, root dbus.ObjectPath, fn func(*dbus.Signal)) {
	id := r.nextID.Add(1)
	r.watchers.Set(id, &watcher{root: root, fn: fn})
	context.AfterFunc(ctx, func() { r.watchers.Del(id) })
}

// run dispatches signals until the channel closes.
func (r *signalRouter) run(ctx context.Context) {
	r.startOnce.Do(func() {
		groutine.Go(ctx, "bluez-signal-router", func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case sig, ok := <-r.ch:
					if !ok {
						return
					}
					r.dispatch(sig)
				}
			}
		})
	})
}

func (r *signalRouter) dispatch(sig *dbus.Signal) {
	subject := sig.Path
	if sig.Name == interfacesAdded || sig.Name == interfacesRemoved {
		if p, _, ok := interfacesChange(sig); ok {
			subject = p
		}
	}
	r.watchers.Range(func(_ uint64, w *watcher) bool {
		if subject == w.root || under(subject, w.root) {
			w.fn(sig)
		}
		return true
	})
}

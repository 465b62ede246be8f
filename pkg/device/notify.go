package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/ringchan"
)

// NotifyState is the local state of a characteristic's notification toggle.
type NotifyState int32

const (
	NotifyIdle      NotifyState = iota // no subscribers, CCCD off
	NotifyEnabling                     // CCCD enable in flight
	NotifyActive                       // delivering to subscribers
	NotifyDisabling                    // last subscriber left, CCCD disable in flight
)

func (s NotifyState) String() string {
	switch s {
	case NotifyIdle:
		return "idle"
	case NotifyEnabling:
		return "enabling"
	case NotifyActive:
		return "active"
	case NotifyDisabling:
		return "disabling"
	default:
		return fmt.Sprintf("NotifyState(%d)", int32(s))
	}
}

// notifier multiplexes subscribers over one peer-side toggle. mu serializes
// subscribe/unsubscribe transitions, subsMu guards the fan-out set that deliver reads from
// the backend callback.
type notifier struct {
	mu    sync.Mutex
	state atomic.Int32

	subsMu sync.RWMutex
	subs   map[uint64]*ringchan.RingChannel[[]byte]
	nextID uint64
}

func (n *notifier) add(rc *ringchan.RingChannel[[]byte]) uint64 {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	if n.subs == nil {
		n.subs = make(map[uint64]*ringchan.RingChannel[[]byte])
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = rc
	return id
}

// remove drops and closes a subscriber and returns how many remain.
func (n *notifier) remove(id uint64) int {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	if rc, ok := n.subs[id]; ok {
		delete(n.subs, id)
		rc.Close()
	}
	return len(n.subs)
}

func (n *notifier) set(s NotifyState) { n.state.Store(int32(s)) }
func (n *notifier) get() NotifyState  { return NotifyState(n.state.Load()) }

// NotifyState returns the local toggle state. Use IsNotifying for the peer's view.
func (c *Characteristic) NotifyState() NotifyState { return c.notify.get() }

// Subscribers returns the number of live notification streams.
func (c *Characteristic) Subscribers() int {
	c.notify.subsMu.RLock()
	defer c.notify.subsMu.RUnlock()
	return len(c.notify.subs)
}

// Notify subscribes to value updates. The first subscriber enables notifications at the
// peer (Notify preferred over Indicate) before Notify returns; later subscribers share
// that toggle. Closing the last stream disables it again on a best-effort basis.
//
// Each subscriber buffers up to Options.NotifyBuffer values; when it falls further behind
// the oldest value is dropped and counted by Stream.Dropped. The stream ends with
// NotConnected when the device disconnects and with ServiceChanged when the service is
// invalidated.
func (c *Characteristic) Notify(ctx context.Context) (*Stream[[]byte], error) {
	props := c.Properties()
	if !props.CanNotify() {
		return nil, NewError(NotSupported, "characteristic %s supports neither notify nor indicate (%s)", c.uuid, props)
	}
	if !c.service.IsValid() {
		return nil, NewError(ServiceChanged, "service %s on %s was invalidated", c.service.uuid, c.service.device.id)
	}

	ectx, stopEvents := context.WithCancel(ctx)
	events, err := c.service.device.peer.Events(ectx)
	if err != nil {
		stopEvents()
		return nil, err
	}

	rc := ringchan.New[[]byte](c.opts.NotifyBuffer)
	id, err := c.subscribe(ctx, rc)
	if err != nil {
		stopEvents()
		return nil, err
	}

	name := fmt.Sprintf("notify-%s-%s", c.service.device.id, c.uuid)
	return newStream(ctx, name, c.logger, func(sctx context.Context, e *Emitter[[]byte]) error {
		for {
			select {
			case v, ok := <-rc.C():
				if !ok {
					return nil
				}
				e.SetDropped(rc.Metrics().Overwritten)
				if !e.Emit(v) {
					return nil
				}
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				switch ev.Kind {
				case PeerDisconnected:
					return NewError(NotConnected, "device %s disconnected", c.service.device.id)
				case PeerServicesChanged:
					if c.service.affectedBy(ev.Handles) {
						c.service.invalidate()
						return NewError(ServiceChanged, "service %s on %s changed", c.service.uuid, c.service.device.id)
					}
				}
			case <-sctx.Done():
				return nil
			}
		}
	}, func() {
		c.unsubscribe(id)
	}, stopEvents), nil
}

func (c *Characteristic) subscribe(ctx context.Context, rc *ringchan.RingChannel[[]byte]) (uint64, error) {
	n := &c.notify
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.add(rc)
	if n.get() == NotifyActive {
		c.logger.WithFields(logrus.Fields{
			"characteristic": c.uuid,
			"subscriber":     id,
		}).Debug("Joined active notification subscription")
		return id, nil
	}

	n.set(NotifyEnabling)
	cb := c.backendRef()
	indicate := !c.Properties().Has(PropNotify)
	err := c.service.device.guard(ctx, c.service, "enable notifications on "+string(c.uuid), func(gctx context.Context) error {
		return cb.EnableNotify(gctx, indicate, c.deliver)
	})
	if err != nil {
		n.remove(id)
		n.set(NotifyIdle)
		return 0, err
	}
	n.set(NotifyActive)

	c.logger.WithFields(logrus.Fields{
		"device":         c.service.device.id,
		"characteristic": c.uuid,
		"indicate":       indicate,
	}).Debug("Notifications enabled")
	return id, nil
}

// unsubscribe runs at stream teardown. The disable is best effort: the subscriber is
// already gone, so failures are only logged.
func (c *Characteristic) unsubscribe(id uint64) {
	n := &c.notify
	n.mu.Lock()
	defer n.mu.Unlock()

	if remaining := n.remove(id); remaining > 0 || n.get() != NotifyActive {
		return
	}
	n.set(NotifyDisabling)
	defer n.set(NotifyIdle)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DisableTimeout)
	defer cancel()

	fields := logrus.Fields{
		"device":         c.service.device.id,
		"characteristic": c.uuid,
	}
	if connected, err := c.service.device.peer.IsConnected(ctx); err == nil && !connected {
		c.logger.WithFields(fields).Debug("Device disconnected, skipping notification disable")
		return
	}
	if err := c.backendRef().DisableNotify(ctx); err != nil {
		fields["error"] = err
		c.logger.WithFields(fields).Warn("Failed to disable notifications")
		return
	}
	c.logger.WithFields(fields).Debug("Notifications disabled")
}

// deliver is the backend notification handler. It never blocks.
func (c *Characteristic) deliver(data []byte) {
	c.cache.set(data)

	c.notify.subsMu.RLock()
	defer c.notify.subsMu.RUnlock()
	for _, rc := range c.notify.subs {
		cp := make([]byte, len(data))
		copy(cp, data)
		rc.Send(cp)
	}
}

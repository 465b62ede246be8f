package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/groutine"
)

// Device is a handle to a remote peer bound to one Adapter. Handles are cheap and
// interned per adapter; compare them with Equal.
type Device struct {
	id      DeviceID
	adapter *Adapter
	peer    PeerBackend
	logger  *logrus.Logger

	mu            sync.Mutex
	services      []*Service
	discovered    bool
	monitorCancel context.CancelFunc
}

func newDevice(a *Adapter, p PeerBackend) *Device {
	return &Device{
		id:      p.ID(),
		adapter: a,
		peer:    p,
		logger:  a.logger,
	}
}

func (d *Device) ID() DeviceID      { return d.id }
func (d *Device) Adapter() *Adapter { return d.adapter }

func (d *Device) String() string { return string(d.id) }

// Equal reports whether d and o denote the same peer on the same radio.
func (d *Device) Equal(o *Device) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.id == o.id && d.adapter.Equal(o.adapter)
}

// Name returns the peer's name as known by the stack.
func (d *Device) Name(ctx context.Context) (string, error) {
	return d.peer.Name(ctx)
}

// IsConnected queries the live connection state.
func (d *Device) IsConnected(ctx context.Context) (bool, error) {
	return d.peer.IsConnected(ctx)
}

// Connect is a shortcut for Adapter().ConnectDevice(ctx, d).
func (d *Device) Connect(ctx context.Context) error {
	return d.adapter.ConnectDevice(ctx, d)
}

// Disconnect is a shortcut for Adapter().DisconnectDevice(ctx, d).
func (d *Device) Disconnect(ctx context.Context) error {
	return d.adapter.DisconnectDevice(ctx, d)
}

// ConnectionEvents is a shortcut for Adapter().DeviceConnectionEvents(ctx, d).
func (d *Device) ConnectionEvents(ctx context.Context) (*Stream[ConnectionEvent], error) {
	return d.adapter.DeviceConnectionEvents(ctx, d)
}

// ServiceUUIDs returns the service UUIDs the stack knows for the peer.
func (d *Device) ServiceUUIDs(ctx context.Context) ([]UUID, error) {
	return d.peer.ServiceUUIDs(ctx)
}

// DiscoverServices enumerates services afresh. Handles of services that are still present
// are kept, so subscriptions on their characteristics survive rediscovery.
func (d *Device) DiscoverServices(ctx context.Context) ([]*Service, error) {
	var found []ServiceBackend
	err := d.guard(ctx, nil, "discover services", func(gctx context.Context) error {
		var err error
		found, err = d.peer.DiscoverServices(gctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	previous := make(map[uint16]*Service, len(d.services))
	for _, s := range d.services {
		if s.IsValid() {
			previous[s.handle] = s
		}
	}

	services := make([]*Service, 0, len(found))
	for _, sb := range found {
		if s, ok := previous[sb.Handle()]; ok && s.uuid == sb.UUID() {
			s.rebind(sb)
			services = append(services, s)
			continue
		}
		services = append(services, newService(d, sb))
	}
	sort.SliceStable(services, func(i, j int) bool { return services[i].handle < services[j].handle })

	d.services = services
	d.discovered = true
	d.adapter.pin(d)
	d.startMonitorLocked()

	d.logger.WithFields(logrus.Fields{
		"device":   d.id,
		"services": len(services),
	}).Debug("Services discovered")
	return append([]*Service(nil), services...), nil
}

// Services returns the cached services, discovering them if discovery never ran or the
// previous result was invalidated.
func (d *Device) Services(ctx context.Context) ([]*Service, error) {
	d.mu.Lock()
	if d.discovered {
		out := append([]*Service(nil), d.services...)
		d.mu.Unlock()
		return out, nil
	}
	d.mu.Unlock()
	return d.DiscoverServices(ctx)
}

// Service returns the first service with the given UUID.
func (d *Device) Service(ctx context.Context, uuid UUID) (*Service, error) {
	services, err := d.Services(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range services {
		if s.uuid == uuid {
			return s, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", UUIDs: []UUID{uuid}}
}

// startMonitorLocked watches the peer for disconnection and service changes once a service
// tree exists. The monitor outlives disconnects and runs until the session closes. Caller
// holds d.mu.
func (d *Device) startMonitorLocked() {
	if d.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(d.adapter.monitorCtx)
	events, err := d.peer.Events(ctx)
	if err != nil {
		cancel()
		d.logger.WithFields(logrus.Fields{
			"device": d.id,
			"error":  err,
		}).Warn("Cannot watch device events, service changes will not be detected")
		return
	}

	started := d.adapter.goMonitor("device-monitor-"+string(d.id), func(ctx context.Context) {
		defer d.stopMonitor(cancel)
		logger := d.logger.WithFields(logrus.Fields{
			"device":    d.id,
			"goroutine": groutine.Name(ctx),
		})
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					logger.Debug("Device event stream closed, monitor stopped")
					return
				}
				switch ev.Kind {
				case PeerDisconnected:
					logger.Debug("Device disconnected, cached values are stale")
					d.disconnected()
				case PeerConnected:
					logger.Debug("Device reconnected")
				case PeerServicesChanged:
					d.invalidateServices(ev.Handles)
				}
			case <-ctx.Done():
				return
			}
		}
	})
	if !started {
		cancel()
		return
	}
	d.monitorCancel = cancel
}

func (d *Device) stopMonitor(cancel context.CancelFunc) {
	cancel()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitorCancel = nil
}

// disconnected marks cached values stale and forces the next Services call to rediscover.
// Surviving services keep their handles through rediscovery, and the backend re-arms its
// service-changed watch on the new link.
func (d *Device) disconnected() {
	d.mu.Lock()
	d.discovered = false
	d.mu.Unlock()
	d.markStale()
}

func (d *Device) markStale() {
	d.mu.Lock()
	services := append([]*Service(nil), d.services...)
	d.mu.Unlock()
	for _, s := range services {
		s.markStale()
	}
}

// invalidateServices retires the services covered by handles (all when empty) and drops
// them from the cache so the next Services call rediscovers.
func (d *Device) invalidateServices(handles []uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.services[:0]
	invalidated := 0
	for _, s := range d.services {
		if s.affectedBy(handles) {
			s.invalidate()
			invalidated++
			continue
		}
		kept = append(kept, s)
	}
	d.services = kept
	if invalidated > 0 {
		d.discovered = false
	}

	d.logger.WithFields(logrus.Fields{
		"device":      d.id,
		"handles":     handles,
		"invalidated": invalidated,
	}).Info("Peer reported service change")
}

// guard runs fn while watching the peer. It fails with NotConnected when the peer is not
// connected or disconnects before fn returns, and with ServiceChanged when svc is, or
// becomes, invalid. Both are detected from the same event subscription fn runs under.
func (d *Device) guard(ctx context.Context, svc *Service, op string, fn func(ctx context.Context) error) error {
	if svc != nil && !svc.IsValid() {
		return NewError(ServiceChanged, "%s: service %s on %s was invalidated", op, svc.uuid, d.id)
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := d.peer.Events(gctx)
	if err != nil {
		return err
	}

	connected, err := d.peer.IsConnected(gctx)
	if err != nil {
		return err
	}
	if !connected {
		return NewError(NotConnected, "%s: device %s is not connected", op, d.id)
	}

	result := make(chan error, 1)
	go func() { result <- fn(gctx) }()

	for {
		select {
		case err := <-result:
			switch {
			case err == nil:
				return nil
			case svc != nil && !svc.IsValid():
				return WrapError(ServiceChanged, err, "%s: service %s on %s changed", op, svc.uuid, d.id)
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				return fmt.Errorf("%w: %s on %s: %w", ErrTimeout, op, d.id, err)
			}
			return err
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case PeerDisconnected:
				return NewError(NotConnected, "%s: device %s disconnected", op, d.id)
			case PeerServicesChanged:
				if svc != nil && svc.affectedBy(ev.Handles) {
					svc.invalidate()
					return NewError(ServiceChanged, "%s: service %s on %s changed", op, svc.uuid, d.id)
				}
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s on %s: %w", ErrTimeout, op, d.id, ctx.Err())
			}
			return ctx.Err()
		}
	}
}

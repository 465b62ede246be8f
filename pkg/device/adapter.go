package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/groutine"
	"github.com/srg/gattkit/internal/ringchan"
)

// Adapter is the local radio. Adapters are compared by ID, never by pointer.
type Adapter struct {
	session *Session
	backend AdapterBackend
	opts    Options
	logger  *logrus.Logger

	// devices holds plain handles and may evict them. Handles owning a service tree move to
	// pinned and stay there until the session closes.
	devMu   sync.Mutex
	devices *lru.Cache
	pinned  map[DeviceID]*Device

	monMu        sync.Mutex
	monitorCtx   context.Context
	stopMonitors context.CancelFunc
	monitors     sync.WaitGroup
}

func newAdapter(s *Session, ab AdapterBackend) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		session:      s,
		backend:      ab,
		opts:         s.opts,
		logger:       s.logger,
		devices:      lru.New(s.opts.DeviceCacheSize),
		pinned:       make(map[DeviceID]*Device),
		monitorCtx:   ctx,
		stopMonitors: cancel,
	}
}

// goMonitor runs a device monitor until the adapter closes. It reports false once the
// adapter is closed.
func (a *Adapter) goMonitor(name string, fn func(ctx context.Context)) bool {
	a.monMu.Lock()
	defer a.monMu.Unlock()
	if a.monitorCtx.Err() != nil {
		return false
	}
	groutine.GoTracked(a.monitorCtx, &a.monitors, name, fn)
	return true
}

// close stops every device monitor and waits for them to exit.
func (a *Adapter) close() {
	a.monMu.Lock()
	a.stopMonitors()
	a.monMu.Unlock()
	a.monitors.Wait()
}

// ID is the platform-stable adapter identity.
func (a *Adapter) ID() string { return a.backend.ID() }

// Equal reports whether a and o refer to the same radio.
func (a *Adapter) Equal(o *Adapter) bool {
	if a == nil || o == nil {
		return a == o
	}
	return a.ID() == o.ID()
}

// IsPowered queries the radio power state.
func (a *Adapter) IsPowered(ctx context.Context) (bool, error) {
	return a.backend.IsPowered(ctx)
}

// Events streams Available/Unavailable transitions in the order the radio reports them.
// Other adapter events are dropped.
func (a *Adapter) Events(ctx context.Context) (*Stream[AdapterEvent], error) {
	sctx, cancel := context.WithCancel(ctx)
	raw, err := a.backend.Events(sctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return filterStream(ctx, "adapter-events", a.logger, raw, cancel, func(ev RawAdapterEvent) (AdapterEvent, bool) {
		if ev.Kind != RawPowerChanged {
			return 0, false
		}
		if ev.Powered {
			return AdapterAvailable, true
		}
		return AdapterUnavailable, true
	}), nil
}

// WaitAvailable returns once the radio is powered. A powered radio returns immediately
// without subscribing to events.
func (a *Adapter) WaitAvailable(ctx context.Context) error {
	powered, err := a.backend.IsPowered(ctx)
	if err != nil {
		return err
	}
	if powered {
		return nil
	}

	events, err := a.Events(ctx)
	if err != nil {
		return err
	}
	defer events.Close()

	// the radio may have come up between the check and the subscription
	if powered, err := a.backend.IsPowered(ctx); err == nil && powered {
		return nil
	}

	a.logger.WithField("adapter", a.ID()).Debug("Waiting for adapter to become available...")
	for ev, err := range events.All(ctx) {
		if err != nil {
			return err
		}
		if ev == AdapterAvailable {
			a.logger.WithField("adapter", a.ID()).Debug("Adapter available")
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return NewError(Internal, "adapter event stream closed unexpectedly")
}

// OpenDevice returns a handle for id without any radio I/O.
func (a *Adapter) OpenDevice(id string) (*Device, error) {
	did, err := a.backend.ParseDeviceID(id)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidDeviceID, id, err)
	}
	return a.device(did)
}

// device interns handles so repeated lookups share one service tree.
func (a *Adapter) device(id DeviceID) (*Device, error) {
	a.devMu.Lock()
	defer a.devMu.Unlock()

	if d, ok := a.lookupLocked(id); ok {
		return d, nil
	}
	peer, err := a.backend.Peer(id)
	if err != nil {
		return nil, err
	}
	d := newDevice(a, peer)
	a.devices.Add(id, d)
	return d, nil
}

func (a *Adapter) deviceForPeer(p PeerBackend) *Device {
	a.devMu.Lock()
	defer a.devMu.Unlock()

	if d, ok := a.lookupLocked(p.ID()); ok {
		return d
	}
	d := newDevice(a, p)
	a.devices.Add(p.ID(), d)
	return d
}

func (a *Adapter) lookupLocked(id DeviceID) (*Device, bool) {
	if d, ok := a.pinned[id]; ok {
		return d, true
	}
	if v, ok := a.devices.Get(id); ok {
		return v.(*Device), true
	}
	return nil, false
}

// pin keeps d out of eviction once it owns a service tree, so every lookup of its ID keeps
// reaching the same services, characteristics and notification toggles.
func (a *Adapter) pin(d *Device) {
	a.devMu.Lock()
	defer a.devMu.Unlock()

	if current, ok := a.pinned[d.id]; ok {
		if current != d {
			a.logger.WithField("device", d.id).Warn("Device handle was pinned twice, keeping the first")
		}
		return
	}
	a.pinned[d.id] = d
	a.devices.Remove(d.id)
}

// ConnectedDevices returns a snapshot of the peers connected right now.
func (a *Adapter) ConnectedDevices(ctx context.Context) ([]*Device, error) {
	peers, err := a.backend.ConnectedPeers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Device, 0, len(peers))
	for _, p := range peers {
		out = append(out, a.deviceForPeer(p))
	}
	return out, nil
}

// ConnectedDevicesWithServices returns connected peers exposing at least one of services.
// An empty services list is a caller bug and is rejected before touching the radio.
func (a *Adapter) ConnectedDevicesWithServices(ctx context.Context, services []UUID) ([]*Device, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: services must not be empty", ErrInvalidArgument)
	}

	peers, err := a.backend.ConnectedPeers(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Device
	for _, p := range peers {
		uuids, err := p.ServiceUUIDs(ctx)
		if err != nil {
			return nil, err
		}
		if ContainsAny(uuids, services) {
			out = append(out, a.deviceForPeer(p))
		}
	}
	return out, nil
}

// Scan streams advertisements from devices that are not connected. A non-empty services
// list keeps only advertisements listing one of them. The radio scan starts with the first
// Next and stops when the stream is closed. Repeated advertisements are not deduplicated.
func (a *Adapter) Scan(ctx context.Context, services []UUID) (*Stream[AdvertisingDevice], error) {
	return newStream(ctx, "scan", a.logger, func(sctx context.Context, e *Emitter[AdvertisingDevice]) error {
		return scanInto(a, sctx, e, services, func(ad AdvertisingDevice) (AdvertisingDevice, bool) {
			return ad, true
		})
	}), nil
}

// DiscoverDevices first yields the connected devices matching services (all connected
// devices for an empty list), then, only if the consumer keeps pulling, scans for
// matching advertisers. Each device is yielded at most once.
func (a *Adapter) DiscoverDevices(ctx context.Context, services []UUID) (*Stream[*Device], error) {
	return newStream(ctx, "discover", a.logger, func(sctx context.Context, e *Emitter[*Device]) error {
		var (
			snapshot []*Device
			err      error
		)
		if len(services) == 0 {
			snapshot, err = a.ConnectedDevices(sctx)
		} else {
			snapshot, err = a.ConnectedDevicesWithServices(sctx, services)
		}
		if err != nil {
			return err
		}

		seen := make(map[DeviceID]struct{}, len(snapshot))
		for _, d := range snapshot {
			seen[d.ID()] = struct{}{}
			if !e.Emit(d) {
				return nil
			}
		}

		if !e.Demand() {
			return nil
		}
		a.logger.WithField("services", services).Debug("Connected devices exhausted, switching to scan")

		return scanInto(a, sctx, e, services, func(ad AdvertisingDevice) (*Device, bool) {
			if _, dup := seen[ad.Device.ID()]; dup {
				return nil, false
			}
			seen[ad.Device.ID()] = struct{}{}
			return ad.Device, true
		})
	}), nil
}

// scanInto runs one radio scan for the lifetime of the calling producer and forwards
// matching advertisements through convert.
func scanInto[T any](a *Adapter, ctx context.Context, e *Emitter[T], services []UUID,
	convert func(AdvertisingDevice) (T, bool)) error {
	buf := ringchan.New[RawAdvertisement](a.opts.ScanBuffer)
	scanCtx, stop := context.WithCancel(ctx)

	var scanErr error
	scanDone := make(chan struct{})
	a.logger.WithFields(logrus.Fields{
		"adapter":  a.ID(),
		"services": services,
	}).Debug("Starting scan...")
	groutine.Go(scanCtx, "adapter-scan", func(gctx context.Context) {
		defer close(scanDone)
		scanErr = a.backend.Scan(gctx, services, func(adv RawAdvertisement) {
			buf.Send(adv)
		})
		buf.Close()
	})
	defer func() {
		stop()
		<-scanDone
		a.logger.WithFields(logrus.Fields{
			"adapter": a.ID(),
			"dropped": buf.Metrics().Overwritten,
		}).Debug("Scan stopped")
	}()

	for {
		select {
		case adv, ok := <-buf.C():
			if !ok {
				<-scanDone
				if ctx.Err() != nil {
					return nil
				}
				if scanErr != nil {
					return scanErr
				}
				return NewError(Internal, "scan ended unexpectedly")
			}
			e.SetDropped(buf.Metrics().Overwritten)

			if len(services) > 0 && !ContainsAny(adv.Data.Services, services) {
				continue
			}
			d, err := a.device(adv.ID)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"device": adv.ID,
					"error":  err,
				}).Debug("Skipping advertisement from unusable device")
				continue
			}
			if connected, err := d.peer.IsConnected(ctx); err == nil && connected {
				continue
			}
			v, keep := convert(AdvertisingDevice{Device: d, Data: adv.Data, RSSI: adv.RSSI})
			if !keep {
				continue
			}
			if !e.Emit(v) {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// ConnectDevice connects d. An already connected device is not an error.
func (a *Adapter) ConnectDevice(ctx context.Context, d *Device) error {
	connected, err := d.peer.IsConnected(ctx)
	if err != nil {
		return err
	}
	if connected {
		a.logger.WithField("device", d.ID()).Debug("Connect requested for already connected device")
		return nil
	}

	a.logger.WithField("device", d.ID()).Info("Connecting to BLE device...")
	if err := d.peer.Connect(ctx); err != nil {
		a.logger.WithFields(logrus.Fields{
			"device": d.ID(),
			"error":  err,
		}).Error("Failed to connect to BLE device")
		return err
	}
	a.logger.WithField("device", d.ID()).Info("BLE device connected")
	return nil
}

// DisconnectDevice disconnects d. An already disconnected device is not an error.
func (a *Adapter) DisconnectDevice(ctx context.Context, d *Device) error {
	connected, err := d.peer.IsConnected(ctx)
	if err != nil {
		return err
	}
	if !connected {
		a.logger.WithField("device", d.ID()).Debug("Disconnect called but already disconnected")
		return nil
	}

	a.logger.WithField("device", d.ID()).Info("Disconnecting BLE device...")
	if err := d.peer.Disconnect(ctx); err != nil {
		a.logger.WithFields(logrus.Fields{
			"device": d.ID(),
			"error":  err,
		}).Warn("BLE device disconnected with errors")
		return err
	}
	a.logger.WithField("device", d.ID()).Info("BLE device disconnected")
	return nil
}

// DeviceConnectionEvents streams Connected/Disconnected transitions of d.
func (a *Adapter) DeviceConnectionEvents(ctx context.Context, d *Device) (*Stream[ConnectionEvent], error) {
	sctx, cancel := context.WithCancel(ctx)
	raw, err := d.peer.Events(sctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return filterStream(ctx, "connection-events", a.logger, raw, cancel, func(ev PeerEvent) (ConnectionEvent, bool) {
		switch ev.Kind {
		case PeerConnected:
			return Connected, true
		case PeerDisconnected:
			return Disconnected, true
		default:
			return 0, false
		}
	}), nil
}

// filterStream forwards the values of src accepted by keep. The stream ends normally when
// src is closed; release runs at teardown.
func filterStream[R, T any](ctx context.Context, name string, logger *logrus.Logger, src <-chan R,
	release func(), keep func(R) (T, bool)) *Stream[T] {
	return newStream(ctx, name, logger, func(sctx context.Context, e *Emitter[T]) error {
		for {
			select {
			case r, ok := <-src:
				if !ok {
					return nil
				}
				v, accepted := keep(r)
				if !accepted {
					continue
				}
				if !e.Emit(v) {
					return nil
				}
			case <-sctx.Done():
				return nil
			}
		}
	}, release)
}

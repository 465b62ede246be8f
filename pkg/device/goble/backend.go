// Package goble implements the device backend contract on top of github.com/go-ble/ble:
// CoreBluetooth on macOS and raw HCI sockets on Linux.
//
// Link it in with a blank import:
//
//	import _ "github.com/srg/gattkit/pkg/device/goble"
package goble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/device"
)

// Priority ranks this backend below BlueZ, which does not need raw HCI access on Linux.
const Priority = 10

func init() {
	device.RegisterBackend(backendName, Priority, Open)
}

// Backend is a go-ble session.
type Backend struct {
	radio   Radio
	adapter *adapterBackend
	logger  *logrus.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens the platform radio through RadioFactory.
func Open(_ context.Context, opts device.BackendOptions) (device.Backend, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	radio, err := RadioFactory(opts)
	if err != nil {
		return nil, NormalizeError("open radio", err)
	}

	id := opts.AdapterName
	if id == "" {
		id = defaultAdapterID
	}
	b := &Backend{radio: radio, logger: opts.Logger}
	b.adapter = newAdapterBackend(id, radio, opts.Logger)

	opts.Logger.WithField("adapter", id).Debug("go-ble radio opened")
	return b, nil
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) DefaultAdapter(context.Context) (device.AdapterBackend, error) {
	return b.adapter, nil
}

// Close drops every link and stops the radio.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.adapter.close()
		b.closeErr = NormalizeError("stop radio", b.radio.Stop())
	})
	return b.closeErr
}

// adapterBackend is the single radio go-ble exposes.
type adapterBackend struct {
	id     string
	radio  Radio
	logger *logrus.Logger

	// go-ble has no power query; the state is inferred from operation outcomes.
	powered atomic.Bool
	events  *device.Hub[device.RawAdapterEvent]

	peers *hashmap.Map[device.DeviceID, *peerBackend]
	seen  *hashmap.Map[device.DeviceID, device.AdvertisementData]
}

func newAdapterBackend(id string, radio Radio, logger *logrus.Logger) *adapterBackend {
	a := &adapterBackend{
		id:     id,
		radio:  radio,
		logger: logger,
		events: device.NewHub[device.RawAdapterEvent](device.DefaultHubBuffer),
		peers:  hashmap.New[device.DeviceID, *peerBackend](),
		seen:   hashmap.New[device.DeviceID, device.AdvertisementData](),
	}
	a.powered.Store(true)
	return a
}

func (a *adapterBackend) ID() string { return a.id }

func (a *adapterBackend) IsPowered(context.Context) (bool, error) {
	return a.powered.Load(), nil
}

func (a *adapterBackend) Events(ctx context.Context) (<-chan device.RawAdapterEvent, error) {
	return a.events.Subscribe(ctx), nil
}

func (a *adapterBackend) ParseDeviceID(raw string) (device.DeviceID, error) {
	return ParseDeviceID(raw)
}

func (a *adapterBackend) Peer(id device.DeviceID) (device.PeerBackend, error) {
	return a.peer(id), nil
}

func (a *adapterBackend) peer(id device.DeviceID) *peerBackend {
	p, _ := a.peers.GetOrInsert(id, newPeerBackend(id, a))
	return p
}

// ConnectedPeers lists peers linked through this process; go-ble cannot see links owned by
// other applications.
func (a *adapterBackend) ConnectedPeers(context.Context) ([]device.PeerBackend, error) {
	var out []device.PeerBackend
	a.peers.Range(func(_ device.DeviceID, p *peerBackend) bool {
		if p.connected() {
			out = append(out, p)
		}
		return true
	})
	return out, nil
}

// Scan reports every advertisement, duplicates included, until ctx ends. go-ble cannot
// filter by service, so services is ignored here and applied by the caller.
func (a *adapterBackend) Scan(ctx context.Context, _ []device.UUID, handler func(device.RawAdvertisement)) error {
	err := a.radio.Scan(ctx, true, func(adv ble.Advertisement) {
		raw, ok := convertAdvertisement(adv)
		if !ok {
			a.logger.WithField("addr", adv.Addr().String()).Debug("Skipping advertisement with unparsable address")
			return
		}
		a.remember(raw)
		a.markPowered(true)
		handler(raw)
	})
	if ctx.Err() != nil {
		return nil
	}
	return a.observe(NormalizeError("scan", err))
}

// remember keeps the latest advertised name and services of a peer so they are known
// before (and without) a connection.
func (a *adapterBackend) remember(raw device.RawAdvertisement) {
	prev, _ := a.seen.Get(raw.ID)
	if raw.Data.LocalName == "" {
		raw.Data.LocalName = prev.LocalName
	}
	if len(raw.Data.Services) == 0 {
		raw.Data.Services = prev.Services
	}
	a.seen.Set(raw.ID, raw.Data)
}

// observe updates the inferred power state from an operation outcome and returns err.
func (a *adapterBackend) observe(err error) error {
	if isBluetoothOff(err) {
		a.markPowered(false)
	}
	return err
}

func (a *adapterBackend) markPowered(on bool) {
	if a.powered.Swap(on) == on {
		return
	}
	a.logger.WithField("powered", on).Info("Bluetooth radio power changed")
	a.events.Publish(device.RawAdapterEvent{Kind: device.RawPowerChanged, Powered: on})
}

func (a *adapterBackend) close() {
	a.peers.Range(func(_ device.DeviceID, p *peerBackend) bool {
		_ = p.Disconnect(context.Background())
		p.events.Close()
		return true
	})
	a.events.Close()
}

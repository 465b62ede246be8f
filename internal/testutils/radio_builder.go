package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/gattkit/internal/testutils/mocks"
	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/mock"
)

// RadioBuilder builds a mocked backend with one adapter, its peripherals and the
// advertisements a scan reports.
type RadioBuilder struct {
	id          string
	powered     bool
	peripherals []*PeripheralDeviceBuilder
	adverts     []device.RawAdvertisement
}

// NewRadioBuilder creates a powered radio with no peripherals
func NewRadioBuilder() *RadioBuilder {
	return &RadioBuilder{id: "hci0", powered: true}
}

// WithID sets the adapter identity
func (b *RadioBuilder) WithID(id string) *RadioBuilder {
	b.id = id
	return b
}

// WithPowered sets the initial power state
func (b *RadioBuilder) WithPowered(powered bool) *RadioBuilder {
	b.powered = powered
	return b
}

// WithPeripheral adds a peer reachable through the radio
func (b *RadioBuilder) WithPeripheral(p *PeripheralDeviceBuilder) *RadioBuilder {
	b.peripherals = append(b.peripherals, p)
	return b
}

// WithScanAdvertisements returns an AdvertisementArrayBuilder that will return this RadioBuilder on Build()
func (b *RadioBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*RadioBuilder] {
	ab := NewAdvertisementArrayBuilder[*RadioBuilder]()
	ab.parent = b
	ab.buildFunc = func(parent *RadioBuilder, ads []device.RawAdvertisement) *RadioBuilder {
		parent.adverts = append(parent.adverts, ads...)
		return parent
	}
	return ab
}

// Build creates the mocked backend
func (b *RadioBuilder) Build() *Radio {
	r := &Radio{
		Backend:     &mocks.MockBackend{},
		Adapter:     &mocks.MockAdapterBackend{},
		peripherals: make(map[device.DeviceID]*Peripheral),
		powered:     b.powered,
		adverts:     append([]device.RawAdvertisement(nil), b.adverts...),
		events:      device.NewHub[device.RawAdapterEvent](0),
		scanStarted: make(chan struct{}, 16),
	}
	for _, pb := range b.peripherals {
		r.AddPeripheral(pb.Build())
	}
	r.wire(b.id)
	return r
}

// Radio is a mocked backend and adapter backed by mutable state.
type Radio struct {
	Backend *mocks.MockBackend
	Adapter *mocks.MockAdapterBackend

	mu          sync.Mutex
	powered     bool
	order       []device.DeviceID
	peripherals map[device.DeviceID]*Peripheral
	adverts     []device.RawAdvertisement
	events      *device.Hub[device.RawAdapterEvent]
	scanStarted chan struct{}
}

func (r *Radio) wire(id string) {
	r.Backend.On("Name").Return("mock").Maybe()
	r.Backend.On("DefaultAdapter", mock.Anything).Return(r.Adapter, nil).Maybe()
	r.Backend.On("Close").Return(nil).Maybe()

	r.Adapter.On("ID").Return(id).Maybe()
	r.Adapter.On("IsPowered", mock.Anything).Return(func(context.Context) (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.powered, nil
	}).Maybe()
	r.Adapter.On("Events", mock.Anything).Return(func(ctx context.Context) (<-chan device.RawAdapterEvent, error) {
		return r.events.Subscribe(ctx), nil
	}).Maybe()
	r.Adapter.On("ParseDeviceID", mock.Anything).Return(func(raw string) (device.DeviceID, error) {
		if err := ValidateAddress(raw); err != nil {
			return "", err
		}
		return device.DeviceID(strings.ToLower(raw)), nil
	}).Maybe()
	r.Adapter.On("Peer", mock.Anything).Return(func(id device.DeviceID) (device.PeerBackend, error) {
		return r.peer(id).Mock, nil
	}).Maybe()
	r.Adapter.On("ConnectedPeers", mock.Anything).Return(func(context.Context) ([]device.PeerBackend, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		var out []device.PeerBackend
		for _, id := range r.order {
			if p := r.peripherals[id]; p.IsConnected() {
				out = append(out, p.Mock)
			}
		}
		return out, nil
	}).Maybe()
	r.Adapter.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, _ []device.UUID, handler func(device.RawAdvertisement)) error {
			select {
			case r.scanStarted <- struct{}{}:
			default:
			}
			r.mu.Lock()
			adverts := append([]device.RawAdvertisement(nil), r.adverts...)
			r.mu.Unlock()
			for _, adv := range adverts {
				handler(adv)
			}
			<-ctx.Done()
			return ctx.Err()
		}).Maybe()
}

// peer returns the configured peripheral, or a bare disconnected one for unknown ids.
func (r *Radio) peer(id device.DeviceID) *Peripheral {
	r.mu.Lock()
	p, ok := r.peripherals[id]
	r.mu.Unlock()
	if ok {
		return p
	}
	p = NewPeripheralDeviceBuilder(string(id)).Build()
	r.AddPeripheral(p)
	return p
}

// AddPeripheral makes p reachable through the radio
func (r *Radio) AddPeripheral(p *Peripheral) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peripherals[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.peripherals[p.ID] = p
}

// Peripheral returns the peer registered under address
func (r *Radio) Peripheral(address string) *Peripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peripherals[device.DeviceID(strings.ToLower(address))]
	if !ok {
		panic(fmt.Sprintf("Radio.Peripheral: %s not configured", address))
	}
	return p
}

// SetPowered changes the power state and publishes the adapter event
func (r *Radio) SetPowered(powered bool) {
	r.mu.Lock()
	r.powered = powered
	r.mu.Unlock()
	r.events.Publish(device.RawAdapterEvent{Kind: device.RawPowerChanged, Powered: powered})
}

// Publish sends a raw adapter event to every subscriber
func (r *Radio) Publish(ev device.RawAdapterEvent) {
	r.events.Publish(ev)
}

// CloseEvents ends every adapter event subscription, as when the radio is removed
func (r *Radio) CloseEvents() {
	r.events.Close()
}

// EventSubscribers returns the number of live adapter event subscriptions
func (r *Radio) EventSubscribers() int {
	return r.events.Len()
}

// ScanStarted is signalled every time a scan begins
func (r *Radio) ScanStarted() <-chan struct{} {
	return r.scanStarted
}

// ValidateAddress accepts colon separated MAC addresses
func ValidateAddress(raw string) error {
	parts := strings.Split(raw, ":")
	if len(parts) != 6 {
		return fmt.Errorf("%q is not a MAC address", raw)
	}
	for _, p := range parts {
		if len(p) != 2 || strings.Trim(strings.ToLower(p), "0123456789abcdef") != "" {
			return fmt.Errorf("%q is not a MAC address", raw)
		}
	}
	return nil
}

package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/gattkit/internal/testutils/mocks"
	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/mock"
)

// DescriptorConfig represents a GATT descriptor configuration for mocking
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// CharacteristicConfig represents a GATT characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte             `json:"value,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig represents a GATT service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Address    string          `json:"address,omitempty"`
	Name       string          `json:"name,omitempty"`
	Connected  bool            `json:"connected,omitempty"`
	Advertised []string        `json:"advertised,omitempty"`
	Services   []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a stateful mocked peer: writes persist, notifications can be
// pushed from the test, and connection/service-changed events are published the way a
// backend would publish them.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
}

// NewPeripheralDeviceBuilder creates a new peripheral builder for the given address
func NewPeripheralDeviceBuilder(address string) *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: DeviceProfileConfig{
			Address:  address,
			Services: []ServiceConfig{},
		},
	}
}

// WithName sets the name reported by the peer
func (b *PeripheralDeviceBuilder) WithName(name string) *PeripheralDeviceBuilder {
	b.profile.Name = name
	return b
}

// WithConnected makes the peer start out connected
func (b *PeripheralDeviceBuilder) WithConnected(connected bool) *PeripheralDeviceBuilder {
	b.profile.Connected = connected
	return b
}

// WithAdvertisedServices sets the service UUIDs known before discovery
func (b *PeripheralDeviceBuilder) WithAdvertisedServices(uuids ...string) *PeripheralDeviceBuilder {
	b.profile.Advertised = append(b.profile.Advertised, uuids...)
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *PeripheralDeviceBuilder) WithDescriptor(uuid string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithDescriptor: no service added yet, call WithService first")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	char := &svc.Characteristics[len(svc.Characteristics)-1]
	char.Descriptors = append(char.Descriptors, DescriptorConfig{UUID: uuid, Value: value})
	return b
}

// FromJSON fills the device profile from JSON. The address is kept unless the JSON sets one.
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.Address == "" {
		config.Address = b.profile.Address
	}
	b.profile = config
	return b
}

// Build creates the mocked peer with the configured profile
func (b *PeripheralDeviceBuilder) Build() *Peripheral {
	p := &Peripheral{
		ID:        device.DeviceID(strings.ToLower(b.profile.Address)),
		Mock:      &mocks.MockPeerBackend{},
		name:      b.profile.Name,
		connected: b.profile.Connected,
		events:    device.NewHub[device.PeerEvent](0),
	}
	for _, u := range b.profile.Advertised {
		p.advertised = append(p.advertised, device.MustParseUUID(u))
	}

	var handle uint16
	for _, svcConfig := range b.profile.Services {
		handle++
		svc := &PeripheralService{
			UUID:   device.MustParseUUID(svcConfig.UUID),
			Handle: handle,
			Mock:   &mocks.MockServiceBackend{},
		}
		for _, charConfig := range svcConfig.Characteristics {
			handle += 2
			props, err := device.ParseProperties(charConfig.Properties)
			if err != nil || charConfig.Properties == "" {
				props = device.PropRead | device.PropWrite | device.PropNotify // default
			}
			char := &PeripheralCharacteristic{
				UUID:       device.MustParseUUID(charConfig.UUID),
				Handle:     handle,
				Properties: props,
				Mock:       &mocks.MockCharacteristicBackend{},
				peripheral: p,
				value:      append([]byte(nil), charConfig.Value...),
			}
			for _, descConfig := range charConfig.Descriptors {
				handle++
				desc := &PeripheralDescriptor{
					UUID:   device.MustParseUUID(descConfig.UUID),
					Handle: handle,
					Mock:   &mocks.MockDescriptorBackend{},
					value:  append([]byte(nil), descConfig.Value...),
				}
				desc.wire()
				char.Descriptors = append(char.Descriptors, desc)
			}
			char.wire()
			svc.Characteristics = append(svc.Characteristics, char)
		}
		svc.wire()
		p.Services = append(p.Services, svc)
	}
	p.wire()
	return p
}

// Peripheral is a mocked remote device backed by mutable state.
type Peripheral struct {
	ID       device.DeviceID
	Mock     *mocks.MockPeerBackend
	Services []*PeripheralService

	mu         sync.Mutex
	name       string
	connected  bool
	advertised []device.UUID
	events     *device.Hub[device.PeerEvent]
}

func (p *Peripheral) wire() {
	p.Mock.On("ID").Return(p.ID).Maybe()
	p.Mock.On("Name", mock.Anything).Return(func(context.Context) (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.name, nil
	}).Maybe()
	p.Mock.On("IsConnected", mock.Anything).Return(func(context.Context) (bool, error) {
		return p.IsConnected(), nil
	}).Maybe()
	p.Mock.On("Connect", mock.Anything).Return(func(context.Context) error {
		p.SetConnected(true)
		return nil
	}).Maybe()
	p.Mock.On("Disconnect", mock.Anything).Return(func(context.Context) error {
		p.SetConnected(false)
		return nil
	}).Maybe()
	p.Mock.On("Events", mock.Anything).Return(func(ctx context.Context) (<-chan device.PeerEvent, error) {
		return p.events.Subscribe(ctx), nil
	}).Maybe()
	p.Mock.On("ServiceUUIDs", mock.Anything).Return(func(context.Context) ([]device.UUID, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		uuids := append([]device.UUID(nil), p.advertised...)
		if p.connected {
			for _, s := range p.Services {
				uuids = append(uuids, s.UUID)
			}
		}
		return uuids, nil
	}).Maybe()
	p.Mock.On("DiscoverServices", mock.Anything).Return(func(context.Context) ([]device.ServiceBackend, error) {
		if !p.IsConnected() {
			return nil, device.NewError(device.NotConnected, "peer %s is not connected", p.ID)
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		out := make([]device.ServiceBackend, 0, len(p.Services))
		for _, s := range p.Services {
			out = append(out, s.Mock)
		}
		return out, nil
	}).Maybe()
}

// IsConnected reports the simulated link state
func (p *Peripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SetConnected changes the link state and publishes the matching peer event
func (p *Peripheral) SetConnected(connected bool) {
	p.mu.Lock()
	changed := p.connected != connected
	p.connected = connected
	p.mu.Unlock()

	if !changed {
		return
	}
	if connected {
		p.events.Publish(device.PeerEvent{Kind: device.PeerConnected})
	} else {
		p.events.Publish(device.PeerEvent{Kind: device.PeerDisconnected})
	}
}

// ChangeServices publishes a service-changed event for the given service start handles
// (all services when none are given)
func (p *Peripheral) ChangeServices(handles ...uint16) {
	p.events.Publish(device.PeerEvent{Kind: device.PeerServicesChanged, Handles: handles})
}

// Subscribers returns the number of live peer event subscriptions
func (p *Peripheral) Subscribers() int {
	return p.events.Len()
}

// Service returns the first configured service with the given UUID
func (p *Peripheral) Service(uuid string) *PeripheralService {
	u := device.MustParseUUID(uuid)
	for _, s := range p.Services {
		if s.UUID == u {
			return s
		}
	}
	panic(fmt.Sprintf("Peripheral.Service: service %s not configured", uuid))
}

// Characteristic returns the configured characteristic at service/char
func (p *Peripheral) Characteristic(service, char string) *PeripheralCharacteristic {
	return p.Service(service).Characteristic(char)
}

// PeripheralService is one mocked service.
type PeripheralService struct {
	UUID            device.UUID
	Handle          uint16
	Mock            *mocks.MockServiceBackend
	Characteristics []*PeripheralCharacteristic
}

func (s *PeripheralService) wire() {
	s.Mock.On("UUID").Return(s.UUID).Maybe()
	s.Mock.On("Handle").Return(s.Handle).Maybe()
	s.Mock.On("IsPrimary").Return(true).Maybe()
	s.Mock.On("DiscoverCharacteristics", mock.Anything).Return(func(context.Context) ([]device.CharacteristicBackend, error) {
		out := make([]device.CharacteristicBackend, 0, len(s.Characteristics))
		for _, c := range s.Characteristics {
			out = append(out, c.Mock)
		}
		return out, nil
	}).Maybe()
}

// Characteristic returns the first characteristic with the given UUID
func (s *PeripheralService) Characteristic(uuid string) *PeripheralCharacteristic {
	u := device.MustParseUUID(uuid)
	for _, c := range s.Characteristics {
		if c.UUID == u {
			return c
		}
	}
	panic(fmt.Sprintf("PeripheralService.Characteristic: characteristic %s not configured in %s", uuid, s.UUID))
}

// PeripheralCharacteristic is one mocked characteristic. Writes persist and are returned by
// later reads.
type PeripheralCharacteristic struct {
	UUID        device.UUID
	Handle      uint16
	Properties  device.Properties
	Mock        *mocks.MockCharacteristicBackend
	Descriptors []*PeripheralDescriptor

	peripheral *Peripheral

	mu        sync.Mutex
	value     []byte
	handler   func([]byte)
	indicate  bool
	readErr   error
	enableErr error
	readDelay time.Duration
}

func (c *PeripheralCharacteristic) wire() {
	c.Mock.On("UUID").Return(c.UUID).Maybe()
	c.Mock.On("Handle").Return(c.Handle).Maybe()
	c.Mock.On("Properties").Return(c.Properties).Maybe()
	c.Mock.On("Read", mock.Anything).Return(func(ctx context.Context) ([]byte, error) {
		c.mu.Lock()
		delay, err := c.readDelay, c.readErr
		c.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return append([]byte(nil), c.value...), nil
	}).Maybe()
	c.Mock.On("Write", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, data []byte, _ bool) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.value = append([]byte(nil), data...)
		return nil
	}).Maybe()
	c.Mock.On("EnableNotify", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, indicate bool, h func([]byte)) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.enableErr != nil {
			return c.enableErr
		}
		c.handler = h
		c.indicate = indicate
		return nil
	}).Maybe()
	c.Mock.On("DisableNotify", mock.Anything).Return(func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handler = nil
		return nil
	}).Maybe()
	c.Mock.On("IsNotifying", mock.Anything).Return(func(context.Context) (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.handler != nil, nil
	}).Maybe()
	c.Mock.On("DiscoverDescriptors", mock.Anything).Return(func(context.Context) ([]device.DescriptorBackend, error) {
		out := make([]device.DescriptorBackend, 0, len(c.Descriptors))
		for _, d := range c.Descriptors {
			out = append(out, d.Mock)
		}
		return out, nil
	}).Maybe()
}

// Notify simulates a value update from the peer. It returns false when notifications are
// not enabled.
func (c *PeripheralCharacteristic) Notify(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	c.value = append([]byte(nil), data...)
	c.mu.Unlock()

	if h == nil {
		return false
	}
	h(data)
	return true
}

// Push delivers data to the notification handler while reads keep returning the stored
// value. It returns false when notifications are not enabled.
func (c *PeripheralCharacteristic) Push(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	if h == nil {
		return false
	}
	h(data)
	return true
}

// Value returns the peer-side value
func (c *PeripheralCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...)
}

// Indicate reports whether notifications were enabled as indications
func (c *PeripheralCharacteristic) Indicate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indicate
}

// Notifying reports whether the peer-side toggle is on
func (c *PeripheralCharacteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// ClearNotify simulates the peer clearing its CCCD on its own
func (c *PeripheralCharacteristic) ClearNotify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
}

// FailReads makes every later read fail with err; nil restores normal reads
func (c *PeripheralCharacteristic) FailReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// FailEnable makes every later EnableNotify fail with err; nil restores it
func (c *PeripheralCharacteristic) FailEnable(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enableErr = err
}

// SetReadDelay makes reads take d unless their context ends first
func (c *PeripheralCharacteristic) SetReadDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDelay = d
}

// PeripheralDescriptor is one mocked descriptor.
type PeripheralDescriptor struct {
	UUID   device.UUID
	Handle uint16
	Mock   *mocks.MockDescriptorBackend

	mu    sync.Mutex
	value []byte
	delay time.Duration
}

func (d *PeripheralDescriptor) wire() {
	d.Mock.On("UUID").Return(d.UUID).Maybe()
	d.Mock.On("Handle").Return(d.Handle).Maybe()
	d.Mock.On("Read", mock.Anything).Return(func(ctx context.Context) ([]byte, error) {
		if err := d.wait(ctx); err != nil {
			return nil, err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		return append([]byte(nil), d.value...), nil
	}).Maybe()
	d.Mock.On("Write", mock.Anything, mock.Anything).Return(func(ctx context.Context, data []byte) error {
		if err := d.wait(ctx); err != nil {
			return err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		d.value = append([]byte(nil), data...)
		return nil
	}).Maybe()
}

func (d *PeripheralDescriptor) wait(ctx context.Context) error {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDelay makes reads and writes take delay unless their context ends first
func (d *PeripheralDescriptor) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Value returns the peer-side value
func (d *PeripheralDescriptor) Value() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.value...)
}

package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockRadio implements Radio for testing
type MockRadio struct {
	mock.Mock
}

func (m *MockRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockRadio) Dial(ctx context.Context, addr ble.Addr) (GATTClient, error) {
	args := m.Called(ctx, addr)
	var c GATTClient
	if args.Get(0) != nil {
		c = args.Get(0).(GATTClient)
	}
	return c, args.Error(1)
}

func (m *MockRadio) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockClient implements GATTClient and the link loss channel for testing
type MockClient struct {
	mock.Mock
	lost chan struct{}
}

func NewMockClient() *MockClient {
	return &MockClient{lost: make(chan struct{})}
}

func (m *MockClient) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	var p *ble.Profile
	if args.Get(0) != nil {
		p = args.Get(0).(*ble.Profile)
	}
	return p, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	var b []byte
	if args.Get(0) != nil {
		b = args.Get(0).([]byte)
	}
	return b, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	var b []byte
	if args.Get(0) != nil {
		b = args.Get(0).([]byte)
	}
	return b, args.Error(1)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	args := m.Called(d, v)
	return args.Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.lost
}

// LoseLink simulates the peer dropping the connection.
func (m *MockClient) LoseLink() {
	close(m.lost)
}

// MockAdvertisement implements ble.Advertisement for testing
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	return args.Get(0).([]ble.ServiceData)
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) TxPowerLevel() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) RSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	return args.Get(0).(ble.Addr)
}

// newMockAdvertisement returns an advertisement with every field stubbed.
func newMockAdvertisement(addr, name string, rssi, tx int, services ...ble.UUID) *MockAdvertisement {
	adv := &MockAdvertisement{}
	adv.On("Addr").Return(ble.NewAddr(addr))
	adv.On("LocalName").Return(name)
	adv.On("RSSI").Return(rssi)
	adv.On("TxPowerLevel").Return(tx)
	adv.On("Connectable").Return(true)
	adv.On("ManufacturerData").Return([]byte{})
	adv.On("ServiceData").Return([]ble.ServiceData{})
	adv.On("Services").Return(services)
	adv.On("OverflowService").Return([]ble.UUID{})
	adv.On("SolicitedService").Return([]ble.UUID{})
	return adv
}

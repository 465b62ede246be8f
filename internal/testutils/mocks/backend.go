// Package mocks holds testify mocks of the backend contract in pkg/device.
//
// Every method accepts either plain return values or a function with the method's own
// signature in the first Return slot, so stateful fakes can be wired with:
//
//	m.On("Read", mock.Anything).Return(func(ctx context.Context) ([]byte, error) { ... })
package mocks

import (
	"context"

	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a mock of device.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Name() string {
	ret := m.Called()
	if rf, ok := ret.Get(0).(func() string); ok {
		return rf()
	}
	return ret.String(0)
}

func (m *MockBackend) DefaultAdapter(ctx context.Context) (device.AdapterBackend, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (device.AdapterBackend, error)); ok {
		return rf(ctx)
	}
	var r0 device.AdapterBackend
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(device.AdapterBackend)
	}
	return r0, ret.Error(1)
}

func (m *MockBackend) Close() error {
	ret := m.Called()
	if rf, ok := ret.Get(0).(func() error); ok {
		return rf()
	}
	return ret.Error(0)
}

// MockAdapterBackend is a mock of device.AdapterBackend.
type MockAdapterBackend struct {
	mock.Mock
}

func (m *MockAdapterBackend) ID() string {
	ret := m.Called()
	return ret.String(0)
}

func (m *MockAdapterBackend) IsPowered(ctx context.Context) (bool, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (bool, error)); ok {
		return rf(ctx)
	}
	return ret.Bool(0), ret.Error(1)
}

func (m *MockAdapterBackend) Events(ctx context.Context) (<-chan device.RawAdapterEvent, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (<-chan device.RawAdapterEvent, error)); ok {
		return rf(ctx)
	}
	var r0 <-chan device.RawAdapterEvent
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(<-chan device.RawAdapterEvent)
	}
	return r0, ret.Error(1)
}

func (m *MockAdapterBackend) ParseDeviceID(raw string) (device.DeviceID, error) {
	ret := m.Called(raw)
	if rf, ok := ret.Get(0).(func(string) (device.DeviceID, error)); ok {
		return rf(raw)
	}
	return ret.Get(0).(device.DeviceID), ret.Error(1)
}

func (m *MockAdapterBackend) Peer(id device.DeviceID) (device.PeerBackend, error) {
	ret := m.Called(id)
	if rf, ok := ret.Get(0).(func(device.DeviceID) (device.PeerBackend, error)); ok {
		return rf(id)
	}
	var r0 device.PeerBackend
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(device.PeerBackend)
	}
	return r0, ret.Error(1)
}

func (m *MockAdapterBackend) ConnectedPeers(ctx context.Context) ([]device.PeerBackend, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]device.PeerBackend, error)); ok {
		return rf(ctx)
	}
	var r0 []device.PeerBackend
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]device.PeerBackend)
	}
	return r0, ret.Error(1)
}

func (m *MockAdapterBackend) Scan(ctx context.Context, services []device.UUID, handler func(device.RawAdvertisement)) error {
	ret := m.Called(ctx, services, handler)
	if rf, ok := ret.Get(0).(func(context.Context, []device.UUID, func(device.RawAdvertisement)) error); ok {
		return rf(ctx, services, handler)
	}
	return ret.Error(0)
}

// MockPeerBackend is a mock of device.PeerBackend.
type MockPeerBackend struct {
	mock.Mock
}

func (m *MockPeerBackend) ID() device.DeviceID {
	ret := m.Called()
	return ret.Get(0).(device.DeviceID)
}

func (m *MockPeerBackend) Name(ctx context.Context) (string, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (string, error)); ok {
		return rf(ctx)
	}
	return ret.String(0), ret.Error(1)
}

func (m *MockPeerBackend) IsConnected(ctx context.Context) (bool, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (bool, error)); ok {
		return rf(ctx)
	}
	return ret.Bool(0), ret.Error(1)
}

func (m *MockPeerBackend) Connect(ctx context.Context) error {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return ret.Error(0)
}

func (m *MockPeerBackend) Disconnect(ctx context.Context) error {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return ret.Error(0)
}

func (m *MockPeerBackend) Events(ctx context.Context) (<-chan device.PeerEvent, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (<-chan device.PeerEvent, error)); ok {
		return rf(ctx)
	}
	var r0 <-chan device.PeerEvent
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(<-chan device.PeerEvent)
	}
	return r0, ret.Error(1)
}

func (m *MockPeerBackend) ServiceUUIDs(ctx context.Context) ([]device.UUID, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]device.UUID, error)); ok {
		return rf(ctx)
	}
	var r0 []device.UUID
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]device.UUID)
	}
	return r0, ret.Error(1)
}

func (m *MockPeerBackend) DiscoverServices(ctx context.Context) ([]device.ServiceBackend, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]device.ServiceBackend, error)); ok {
		return rf(ctx)
	}
	var r0 []device.ServiceBackend
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]device.ServiceBackend)
	}
	return r0, ret.Error(1)
}

// MockServiceBackend is a mock of device.ServiceBackend.
type MockServiceBackend struct {
	mock.Mock
}

func (m *MockServiceBackend) UUID() device.UUID {
	ret := m.Called()
	return ret.Get(0).(device.UUID)
}

func (m *MockServiceBackend) Handle() uint16 {
	ret := m.Called()
	return ret.Get(0).(uint16)
}

func (m *MockServiceBackend) IsPrimary() bool {
	ret := m.Called()
	return ret.Bool(0)
}

func (m *MockServiceBackend) DiscoverCharacteristics(ctx context.Context) ([]device.CharacteristicBackend, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]device.CharacteristicBackend, error)); ok {
		return rf(ctx)
	}
	var r0 []device.CharacteristicBackend
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]device.CharacteristicBackend)
	}
	return r0, ret.Error(1)
}

// MockCharacteristicBackend is a mock of device.CharacteristicBackend.
type MockCharacteristicBackend struct {
	mock.Mock
}

func (m *MockCharacteristicBackend) UUID() device.UUID {
	ret := m.Called()
	return ret.Get(0).(device.UUID)
}

func (m *MockCharacteristicBackend) Handle() uint16 {
	ret := m.Called()
	return ret.Get(0).(uint16)
}

func (m *MockCharacteristicBackend) Properties() device.Properties {
	ret := m.Called()
	return ret.Get(0).(device.Properties)
}

func (m *MockCharacteristicBackend) Read(ctx context.Context) ([]byte, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]byte, error)); ok {
		return rf(ctx)
	}
	var r0 []byte
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}
	return r0, ret.Error(1)
}

func (m *MockCharacteristicBackend) Write(ctx context.Context, data []byte, withResponse bool) error {
	ret := m.Called(ctx, data, withResponse)
	if rf, ok := ret.Get(0).(func(context.Context, []byte, bool) error); ok {
		return rf(ctx, data, withResponse)
	}
	return ret.Error(0)
}

func (m *MockCharacteristicBackend) EnableNotify(ctx context.Context, indicate bool, handler func([]byte)) error {
	ret := m.Called(ctx, indicate, handler)
	if rf, ok := ret.Get(0).(func(context.Context, bool, func([]byte)) error); ok {
		return rf(ctx, indicate, handler)
	}
	return ret.Error(0)
}

func (m *MockCharacteristicBackend) DisableNotify(ctx context.Context) error {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return ret.Error(0)
}

func (m *MockCharacteristicBackend) IsNotifying(ctx context.Context) (bool, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (bool, error)); ok {
		return rf(ctx)
	}
	return ret.Bool(0), ret.Error(1)
}

func (m *MockCharacteristicBackend) DiscoverDescriptors(ctx context.Context) ([]device.DescriptorBackend, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]device.DescriptorBackend, error)); ok {
		return rf(ctx)
	}
	var r0 []device.DescriptorBackend
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]device.DescriptorBackend)
	}
	return r0, ret.Error(1)
}

// MockDescriptorBackend is a mock of device.DescriptorBackend.
type MockDescriptorBackend struct {
	mock.Mock
}

func (m *MockDescriptorBackend) UUID() device.UUID {
	ret := m.Called()
	return ret.Get(0).(device.UUID)
}

func (m *MockDescriptorBackend) Handle() uint16 {
	ret := m.Called()
	return ret.Get(0).(uint16)
}

func (m *MockDescriptorBackend) Read(ctx context.Context) ([]byte, error) {
	ret := m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]byte, error)); ok {
		return rf(ctx)
	}
	var r0 []byte
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}
	return r0, ret.Error(1)
}

func (m *MockDescriptorBackend) Write(ctx context.Context, data []byte) error {
	ret := m.Called(ctx, data)
	if rf, ok := ret.Get(0).(func(context.Context, []byte) error); ok {
		return rf(ctx, data)
	}
	return ret.Error(0)
}

var (
	_ device.Backend               = (*MockBackend)(nil)
	_ device.AdapterBackend        = (*MockAdapterBackend)(nil)
	_ device.PeerBackend           = (*MockPeerBackend)(nil)
	_ device.ServiceBackend        = (*MockServiceBackend)(nil)
	_ device.CharacteristicBackend = (*MockCharacteristicBackend)(nil)
	_ device.DescriptorBackend     = (*MockDescriptorBackend)(nil)
)

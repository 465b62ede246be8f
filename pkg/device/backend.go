package device

import (
	"context"

	"github.com/sirupsen/logrus"
)

// The interfaces below are the contract a platform stack implements. The core layers
// caching, the notification state machine, stream teardown and event filtering on top, so
// backends stay thin translations of their native API.
//
// Blocking calls honour ctx. Channels returned by event subscriptions are closed once the
// subscription context ends or the native source goes away; they must preserve native
// ordering.

// BackendFactory opens a backend. It is called at most once per session.
type BackendFactory func(ctx context.Context, opts BackendOptions) (Backend, error)

// BackendOptions carries the settings a backend may use.
type BackendOptions struct {
	Logger      *logrus.Logger
	AdapterName string // e.g. "hci0"; empty selects the backend default
}

// Backend is one native Bluetooth stack.
type Backend interface {
	Name() string
	// DefaultAdapter returns the primary radio, or ErrNoAdapter.
	DefaultAdapter(ctx context.Context) (AdapterBackend, error)
	// Close releases session resources. A backend may share process-wide native state
	// (such as the system D-Bus connection) and must leave it intact.
	Close() error
}

// RawAdapterEventKind enumerates what a backend may report about its adapter.
type RawAdapterEventKind int

const (
	RawPowerChanged RawAdapterEventKind = iota + 1
	RawDeviceAdded
	RawDeviceRemoved
	RawPropertyChanged
)

// RawAdapterEvent is an unfiltered adapter event. Powered is meaningful for
// RawPowerChanged only.
type RawAdapterEvent struct {
	Kind     RawAdapterEventKind
	Powered  bool
	DeviceID DeviceID
	Property string
}

// AdapterBackend is one local radio.
type AdapterBackend interface {
	// ID is a platform-stable identity (adapter name or address).
	ID() string
	IsPowered(ctx context.Context) (bool, error)
	Events(ctx context.Context) (<-chan RawAdapterEvent, error)
	// ParseDeviceID validates raw and returns its canonical form, without I/O.
	ParseDeviceID(raw string) (DeviceID, error)
	Peer(id DeviceID) (PeerBackend, error)
	ConnectedPeers(ctx context.Context) ([]PeerBackend, error)
	// Scan reports advertisements until ctx ends. services is a hint for hardware
	// filtering; the core filters again.
	Scan(ctx context.Context, services []UUID, handler func(RawAdvertisement)) error
}

// RawAdvertisement is one advertisement as reported by the radio.
type RawAdvertisement struct {
	ID   DeviceID
	Data AdvertisementData
	RSSI *int16
}

// PeerEventKind enumerates peer-level events.
type PeerEventKind int

const (
	PeerConnected PeerEventKind = iota + 1
	PeerDisconnected
	PeerServicesChanged
	PeerPropertyChanged
)

// PeerEvent is an unfiltered event about one peer. For PeerServicesChanged, Handles lists
// the affected service start handles; empty means every service.
type PeerEvent struct {
	Kind     PeerEventKind
	Handles  []uint16
	Property string
}

// PeerBackend is one remote device.
type PeerBackend interface {
	ID() DeviceID
	Name(ctx context.Context) (string, error)
	IsConnected(ctx context.Context) (bool, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Events(ctx context.Context) (<-chan PeerEvent, error)
	// ServiceUUIDs returns the service UUIDs the stack knows for the peer without a full
	// discovery (advertised or resolved).
	ServiceUUIDs(ctx context.Context) ([]UUID, error)
	DiscoverServices(ctx context.Context) ([]ServiceBackend, error)
}

// ServiceBackend is one GATT service instance. Handle is the service start handle (or a
// backend-unique substitute) and identifies the instance within its peer.
type ServiceBackend interface {
	UUID() UUID
	Handle() uint16
	IsPrimary() bool
	DiscoverCharacteristics(ctx context.Context) ([]CharacteristicBackend, error)
}

// CharacteristicBackend is one GATT characteristic.
type CharacteristicBackend interface {
	UUID() UUID
	Handle() uint16
	Properties() Properties
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte, withResponse bool) error
	// EnableNotify writes the CCCD (indications when indicate is set) and starts calling
	// handler with every value update until DisableNotify. handler must not block.
	EnableNotify(ctx context.Context, indicate bool, handler func([]byte)) error
	DisableNotify(ctx context.Context) error
	// IsNotifying reads the peer-side CCCD state.
	IsNotifying(ctx context.Context) (bool, error)
	DiscoverDescriptors(ctx context.Context) ([]DescriptorBackend, error)
}

// DescriptorBackend is one GATT descriptor.
type DescriptorBackend interface {
	UUID() UUID
	Handle() uint16
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

package device

import (
	"fmt"
	"strings"
)

// DeviceID identifies a remote peer in the form chosen by the backend (a MAC address on
// BlueZ/HCI, a CoreBluetooth peripheral UUID on macOS). Two IDs are equal iff they
// denote the same peer.
//
//nolint:revive // DeviceID reads better than ID at call sites outside the package
type DeviceID string

func (id DeviceID) String() string { return string(id) }

// AdapterEvent is a radio availability transition.
type AdapterEvent int

const (
	AdapterAvailable AdapterEvent = iota + 1
	AdapterUnavailable
)

func (e AdapterEvent) String() string {
	switch e {
	case AdapterAvailable:
		return "available"
	case AdapterUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("AdapterEvent(%d)", int(e))
	}
}

// ConnectionEvent is a connection state transition of one peer.
type ConnectionEvent int

const (
	Connected ConnectionEvent = iota + 1
	Disconnected
)

func (e ConnectionEvent) String() string {
	switch e {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnectionEvent(%d)", int(e))
	}
}

// Properties is the GATT characteristic property bitset (Core spec Vol 3 Part G 3.3.1.1).
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

var propertyNames = []struct {
	prop  Properties
	name  string
	alias string
}{
	{PropBroadcast, "Broadcast", "broadcast"},
	{PropRead, "Read", "read"},
	{PropWriteWithoutResponse, "WriteWithoutResponse", "write-without-response"},
	{PropWrite, "Write", "write"},
	{PropNotify, "Notify", "notify"},
	{PropIndicate, "Indicate", "indicate"},
	{PropAuthenticatedSignedWrites, "AuthenticatedSignedWrites", "authenticated-signed-writes"},
	{PropExtendedProperties, "ExtendedProperties", "extended-properties"},
}

// Has reports whether every bit of q is set in p.
func (p Properties) Has(q Properties) bool { return p&q == q && q != 0 }

// CanNotify reports Notify or Indicate support.
func (p Properties) CanNotify() bool { return p&(PropNotify|PropIndicate) != 0 }

// Names returns the set properties in bit order.
func (p Properties) Names() []string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.prop != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	if p == 0 {
		return "None"
	}
	return strings.Join(p.Names(), "|")
}

// ParseProperties parses a comma separated list such as "read,write,notify". Both the
// display names and the BlueZ flag spellings are accepted, case-insensitively.
func ParseProperties(s string) (Properties, error) {
	var p Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		matched := false
		for _, pn := range propertyNames {
			if strings.EqualFold(part, pn.name) || strings.EqualFold(part, pn.alias) {
				p |= pn.prop
				matched = true
				break
			}
		}
		if !matched {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return p, nil
}

// AdvertisementData is the parsed payload of one advertisement (plus scan response).
type AdvertisementData struct {
	LocalName         string
	ManufacturerData  map[uint16][]byte
	ServiceData       map[UUID][]byte
	Services          []UUID
	SolicitedServices []UUID
	TxPowerLevel      *int
	Connectable       bool
}

// AdvertisingDevice is one observed advertisement.
type AdvertisingDevice struct {
	Device *Device
	Data   AdvertisementData
	RSSI   *int16
}

package goble

import (
	"encoding/binary"
	"net"
	"slices"
	"strings"

	"github.com/go-ble/ble"
	uuid "github.com/satori/go.uuid"
	"github.com/srg/gattkit/pkg/device"
)

// go-ble reports 127 for a TX power level or RSSI the controller did not provide.
const unavailableLevel = 127

// ParseDeviceID accepts a MAC address (HCI) or a CoreBluetooth peripheral UUID and returns
// its upper-case canonical form.
func ParseDeviceID(raw string) (device.DeviceID, error) {
	s := strings.TrimSpace(raw)
	if mac, err := net.ParseMAC(s); err == nil && len(mac) == 6 {
		return device.DeviceID(strings.ToUpper(mac.String())), nil
	}
	if u, err := uuid.FromString(s); err == nil {
		return device.DeviceID(strings.ToUpper(u.String())), nil
	}
	return "", device.ErrInvalidDeviceID
}

// convertAdvertisement maps a go-ble advertisement onto the backend contract.
func convertAdvertisement(adv ble.Advertisement) (device.RawAdvertisement, bool) {
	id, err := ParseDeviceID(adv.Addr().String())
	if err != nil {
		return device.RawAdvertisement{}, false
	}

	data := device.AdvertisementData{
		LocalName:         adv.LocalName(),
		Services:          convertUUIDs(slices.Concat(adv.Services(), adv.OverflowService())),
		SolicitedServices: convertUUIDs(adv.SolicitedService()),
		Connectable:       adv.Connectable(),
	}

	// Manufacturer specific data starts with the little-endian company identifier.
	if md := adv.ManufacturerData(); len(md) >= 2 {
		data.ManufacturerData = map[uint16][]byte{
			binary.LittleEndian.Uint16(md): append([]byte(nil), md[2:]...),
		}
	}

	if sd := adv.ServiceData(); len(sd) > 0 {
		data.ServiceData = make(map[device.UUID][]byte, len(sd))
		for _, entry := range sd {
			if u, err := device.ParseUUID(entry.UUID.String()); err == nil {
				data.ServiceData[u] = append([]byte(nil), entry.Data...)
			}
		}
	}

	if tx := adv.TxPowerLevel(); tx != unavailableLevel {
		data.TxPowerLevel = &tx
	}

	raw := device.RawAdvertisement{ID: id, Data: data}
	if rssi := adv.RSSI(); rssi != unavailableLevel {
		v := int16(rssi)
		raw.RSSI = &v
	}
	return raw, true
}

func convertUUIDs(in []ble.UUID) []device.UUID {
	if len(in) == 0 {
		return nil
	}
	out := make([]device.UUID, 0, len(in))
	for _, u := range in {
		if parsed, err := device.ParseUUID(u.String()); err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

var propertyBits = []struct {
	ble  ble.Property
	prop device.Properties
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropAuthenticatedSignedWrites},
	{ble.CharExtended, device.PropExtendedProperties},
}

// convertProperties maps ble.Property bit flags to device.Properties.
func convertProperties(p ble.Property) device.Properties {
	var out device.Properties
	for _, b := range propertyBits {
		if p&b.ble != 0 {
			out |= b.prop
		}
	}
	return out
}

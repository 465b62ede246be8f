package testutils

import (
	"maps"
	"strings"

	"github.com/srg/gattkit/pkg/device"
)

// AdvertisementBuilder assembles a device.RawAdvertisement the way a backend reports one.
// Advertisements are connectable unless told otherwise.
type AdvertisementBuilder struct {
	raw         device.RawAdvertisement
	services    []string
	serviceData map[string][]byte
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		raw:         device.RawAdvertisement{Data: device.AdvertisementData{Connectable: true}},
		serviceData: make(map[string][]byte),
	}
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.raw.ID = device.DeviceID(strings.ToLower(addr))
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.raw.Data.LocalName = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int16) *AdvertisementBuilder {
	b.raw.RSSI = &rssi
	return b
}

// WithServices appends advertised service UUIDs, short ("180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(company uint16, data []byte) *AdvertisementBuilder {
	if b.raw.Data.ManufacturerData == nil {
		b.raw.Data.ManufacturerData = make(map[uint16][]byte)
	}
	b.raw.Data.ManufacturerData[company] = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.raw.Data.TxPowerLevel = &power
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.raw.Data.Connectable = c
	return b
}

// Build panics on malformed UUIDs.
func (b *AdvertisementBuilder) Build() device.RawAdvertisement {
	raw := b.raw
	raw.Data.Services = nil
	for _, s := range b.services {
		raw.Data.Services = append(raw.Data.Services, device.MustParseUUID(s))
	}
	raw.Data.ManufacturerData = maps.Clone(b.raw.Data.ManufacturerData)
	raw.Data.ServiceData = nil
	if len(b.serviceData) > 0 {
		raw.Data.ServiceData = make(map[device.UUID][]byte, len(b.serviceData))
		for k, v := range b.serviceData {
			raw.Data.ServiceData[device.MustParseUUID(k)] = v
		}
	}
	return raw
}

// AdvertisementArrayBuilder collects advertisements for a parent builder and hands them
// back through buildFunc:
//
//	radio := NewRadioBuilder().
//	    WithScanAdvertisements().
//	        WithNewAdvertisement(func(b *AdvertisementBuilder) {
//	            b.WithAddress("11:22:33:44:55:66").WithServices("180D")
//	        }).
//	        Build(). // *RadioBuilder again
//	    Build()
type AdvertisementArrayBuilder[T any] struct {
	advertisements []device.RawAdvertisement
	parent         T
	buildFunc      func(T, []device.RawAdvertisement) T
}

func NewAdvertisementArrayBuilder[T any]() *AdvertisementArrayBuilder[T] {
	return &AdvertisementArrayBuilder[T]{}
}

func (ab *AdvertisementArrayBuilder[T]) WithNewAdvertisement(configure func(*AdvertisementBuilder)) *AdvertisementArrayBuilder[T] {
	b := NewAdvertisementBuilder()
	configure(b)
	ab.advertisements = append(ab.advertisements, b.Build())
	return ab
}

// Build returns the parent, or the advertisements themselves when T is []device.RawAdvertisement.
func (ab *AdvertisementArrayBuilder[T]) Build() T {
	if ab.buildFunc != nil {
		return ab.buildFunc(ab.parent, ab.advertisements)
	}
	var result any = ab.advertisements
	return result.(T)
}

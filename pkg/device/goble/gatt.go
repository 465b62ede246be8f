package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/gattkit/pkg/device"
)

type serviceBackend struct {
	peer   *peerBackend
	svc    *ble.Service
	uuid   device.UUID
	handle uint16
	end    uint16
}

func (s *serviceBackend) UUID() device.UUID { return s.uuid }
func (s *serviceBackend) Handle() uint16    { return s.handle }

// IsPrimary is always true: go-ble discovers primary services only.
func (s *serviceBackend) IsPrimary() bool { return true }

// DiscoverCharacteristics returns the characteristics found by the profile discovery.
func (s *serviceBackend) DiscoverCharacteristics(context.Context) ([]device.CharacteristicBackend, error) {
	if _, err := s.peer.gatt("discover characteristics"); err != nil {
		return nil, err
	}
	out := make([]device.CharacteristicBackend, 0, len(s.svc.Characteristics))
	for i, c := range s.svc.Characteristics {
		u, err := device.ParseUUID(c.UUID.String())
		if err != nil {
			continue
		}
		h := c.ValueHandle
		if h == 0 {
			h = c.Handle
		}
		out = append(out, &characteristicBackend{
			peer:   s.peer,
			char:   c,
			uuid:   u,
			handle: handleOr(h, i),
		})
	}
	return out, nil
}

type characteristicBackend struct {
	peer   *peerBackend
	char   *ble.Characteristic
	uuid   device.UUID
	handle uint16

	mu        sync.Mutex
	notifying bool
	indicate  bool
}

func (c *characteristicBackend) UUID() device.UUID { return c.uuid }
func (c *characteristicBackend) Handle() uint16    { return c.handle }

func (c *characteristicBackend) Properties() device.Properties {
	return convertProperties(c.char.Property)
}

func (c *characteristicBackend) Read(ctx context.Context) ([]byte, error) {
	client, err := c.peer.gatt("read")
	if err != nil {
		return nil, err
	}
	data, err := blocking(ctx, func() ([]byte, error) { return client.ReadCharacteristic(c.char) })
	if err != nil {
		return nil, NormalizeError("read "+c.uuid.String(), err)
	}
	return data, nil
}

func (c *characteristicBackend) Write(ctx context.Context, data []byte, withResponse bool) error {
	client, err := c.peer.gatt("write")
	if err != nil {
		return err
	}
	err = blockingErr(ctx, func() error { return client.WriteCharacteristic(c.char, data, !withResponse) })
	return NormalizeError("write "+c.uuid.String(), err)
}

func (c *characteristicBackend) EnableNotify(ctx context.Context, indicate bool, handler func([]byte)) error {
	client, err := c.peer.gatt("enable notify")
	if err != nil {
		return err
	}
	err = blockingErr(ctx, func() error {
		return client.Subscribe(c.char, indicate, func(data []byte) {
			handler(append([]byte(nil), data...))
		})
	})
	if err != nil {
		return NormalizeError("enable notify "+c.uuid.String(), err)
	}

	c.mu.Lock()
	c.notifying, c.indicate = true, indicate
	c.mu.Unlock()
	return nil
}

func (c *characteristicBackend) DisableNotify(ctx context.Context) error {
	c.mu.Lock()
	indicate := c.indicate
	c.notifying = false
	c.mu.Unlock()

	client, err := c.peer.gatt("disable notify")
	if err != nil {
		return err
	}
	err = blockingErr(ctx, func() error { return client.Unsubscribe(c.char, indicate) })
	return NormalizeError("disable notify "+c.uuid.String(), err)
}

// IsNotifying reads the CCCD when its handle is known. CoreBluetooth hides descriptor
// handles, so there the locally tracked state is reported.
func (c *characteristicBackend) IsNotifying(ctx context.Context) (bool, error) {
	client, err := c.peer.gatt("read cccd")
	if err != nil {
		return false, err
	}
	if c.char.CCCD == nil || c.char.CCCD.Handle == 0 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.notifying, nil
	}
	v, err := blocking(ctx, func() ([]byte, error) { return client.ReadDescriptor(c.char.CCCD) })
	if err != nil {
		return false, NormalizeError("read cccd "+c.uuid.String(), err)
	}
	return len(v) > 0 && v[0]&0x03 != 0, nil
}

func (c *characteristicBackend) DiscoverDescriptors(context.Context) ([]device.DescriptorBackend, error) {
	if _, err := c.peer.gatt("discover descriptors"); err != nil {
		return nil, err
	}
	out := make([]device.DescriptorBackend, 0, len(c.char.Descriptors))
	for i, d := range c.char.Descriptors {
		u, err := device.ParseUUID(d.UUID.String())
		if err != nil {
			continue
		}
		out = append(out, &descriptorBackend{
			peer:   c.peer,
			desc:   d,
			uuid:   u,
			handle: handleOr(d.Handle, i),
		})
	}
	return out, nil
}

type descriptorBackend struct {
	peer   *peerBackend
	desc   *ble.Descriptor
	uuid   device.UUID
	handle uint16
}

func (d *descriptorBackend) UUID() device.UUID { return d.uuid }
func (d *descriptorBackend) Handle() uint16    { return d.handle }

// Read returns the descriptor value. On macOS, the go-ble/ble library does not populate
// descriptor handles, so only values delivered during discovery can be returned there.
func (d *descriptorBackend) Read(ctx context.Context) ([]byte, error) {
	client, err := d.peer.gatt("read descriptor")
	if err != nil {
		return nil, err
	}
	if d.desc.Handle == 0 {
		if len(d.desc.Value) > 0 {
			return append([]byte(nil), d.desc.Value...), nil
		}
		return nil, device.NewError(device.NotSupported, "descriptor %s: handle not available on this platform", d.uuid)
	}
	data, err := blocking(ctx, func() ([]byte, error) { return client.ReadDescriptor(d.desc) })
	if err != nil {
		return nil, NormalizeError("read descriptor "+d.uuid.String(), err)
	}
	return data, nil
}

func (d *descriptorBackend) Write(ctx context.Context, data []byte) error {
	client, err := d.peer.gatt("write descriptor")
	if err != nil {
		return err
	}
	if d.desc.Handle == 0 {
		return device.NewError(device.NotSupported, "descriptor %s: handle not available on this platform", d.uuid)
	}
	err = blockingErr(ctx, func() error { return client.WriteDescriptor(d.desc, data) })
	return NormalizeError("write descriptor "+d.uuid.String(), err)
}

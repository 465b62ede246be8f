package bluez

import (
	"context"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/srg/gattkit/pkg/device"
)

type serviceBackend struct {
	peer    *peerBackend
	path    dbus.ObjectPath
	uuid    device.UUID
	handle  uint16
	primary bool
}

func newServiceBackend(p *peerBackend, path dbus.ObjectPath, props map[string]dbus.Variant) (*serviceBackend, bool) {
	u, ok := uuidProp(props)
	if !ok {
		return nil, false
	}
	h, ok := handleProp(path, props)
	if !ok {
		return nil, false
	}
	primary, _ := prop[bool](props, "Primary")
	return &serviceBackend{peer: p, path: path, uuid: u, handle: h, primary: primary}, true
}

func (s *serviceBackend) UUID() device.UUID { return s.uuid }
func (s *serviceBackend) Handle() uint16    { return s.handle }
func (s *serviceBackend) IsPrimary() bool   { return s.primary }

func (s *serviceBackend) DiscoverCharacteristics(ctx context.Context) ([]device.CharacteristicBackend, error) {
	objects, err := s.peer.a.b.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := objects[s.path][gattServiceIface]; !ok {
		return nil, device.NewError(device.ServiceChanged, "service %s is gone", s.uuid)
	}

	var out []device.CharacteristicBackend
	for _, path := range childrenWith(objects, s.path, gattCharIface, "Service") {
		props := objects[path][gattCharIface]
		u, ok := uuidProp(props)
		if !ok {
			continue
		}
		h, ok := handleProp(path, props)
		if !ok {
			continue
		}
		flags, _ := prop[[]string](props, "Flags")
		out = append(out, &characteristicBackend{
			peer:   s.peer,
			path:   path,
			uuid:   u,
			handle: h,
			props:  parseFlags(flags),
		})
	}
	return out, nil
}

type characteristicBackend struct {
	peer   *peerBackend
	path   dbus.ObjectPath
	uuid   device.UUID
	handle uint16
	props  device.Properties

	mu         sync.Mutex
	stopValues context.CancelFunc
}

func (c *characteristicBackend) UUID() device.UUID             { return c.uuid }
func (c *characteristicBackend) Handle() uint16                { return c.handle }
func (c *characteristicBackend) Properties() device.Properties { return c.props }

func (c *characteristicBackend) object() dbus.BusObject {
	return c.peer.a.b.conn.Object(bluezBus, c.path)
}

func (c *characteristicBackend) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := c.object().CallWithContext(ctx, gattCharIface+".ReadValue", 0, map[string]dbus.Variant{}).Store(&data)
	if err != nil {
		return nil, mapError("read "+c.uuid.String(), true, err)
	}
	return data, nil
}

func (c *characteristicBackend) Write(ctx context.Context, data []byte, withResponse bool) error {
	kind := "command"
	if withResponse {
		kind = "request"
	}
	err := c.object().CallWithContext(ctx, gattCharIface+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant(kind),
	}).Err
	return mapError("write "+c.uuid.String(), true, err)
}

// EnableNotify watches Value changes and calls StartNotify. BlueZ chooses notifications or
// indications itself, so indicate is informational here.
func (c *characteristicBackend) EnableNotify(ctx context.Context, _ bool, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopValues != nil {
		c.stopValues()
	}

	wctx, stop := context.WithCancel(c.peer.a.b.ctx)
	c.peer.a.b.signals.watch(wctx, c.path, func(sig *dbus.Signal) {
		if sig.Path != c.path {
			return
		}
		iface, changed, ok := propertiesChange(sig)
		if !ok || iface != gattCharIface {
			return
		}
		if v, ok := prop[[]byte](changed, "Value"); ok {
			handler(v)
		}
	})

	if err := c.object().CallWithContext(ctx, gattCharIface+".StartNotify", 0).Err; err != nil {
		stop()
		c.stopValues = nil
		return mapError("start notify "+c.uuid.String(), true, err)
	}
	c.stopValues = stop
	return nil
}

func (c *characteristicBackend) DisableNotify(ctx context.Context) error {
	c.mu.Lock()
	if c.stopValues != nil {
		c.stopValues()
		c.stopValues = nil
	}
	c.mu.Unlock()

	err := c.object().CallWithContext(ctx, gattCharIface+".StopNotify", 0).Err
	return mapError("stop notify "+c.uuid.String(), true, err)
}

func (c *characteristicBackend) IsNotifying(ctx context.Context) (bool, error) {
	on, err := getProperty[bool](ctx, c.peer.a.b.conn, c.path, gattCharIface, "Notifying")
	if err != nil {
		return false, mapError("read Notifying", true, err)
	}
	return on, nil
}

func (c *characteristicBackend) DiscoverDescriptors(ctx context.Context) ([]device.DescriptorBackend, error) {
	objects, err := c.peer.a.b.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := objects[c.path][gattCharIface]; !ok {
		return nil, device.NewError(device.ServiceChanged, "characteristic %s is gone", c.uuid)
	}

	var out []device.DescriptorBackend
	for _, path := range childrenWith(objects, c.path, gattDescIface, "Characteristic") {
		props := objects[path][gattDescIface]
		u, ok := uuidProp(props)
		if !ok {
			continue
		}
		h, ok := handleProp(path, props)
		if !ok {
			continue
		}
		out = append(out, &descriptorBackend{peer: c.peer, path: path, uuid: u, handle: h})
	}
	return out, nil
}

type descriptorBackend struct {
	peer   *peerBackend
	path   dbus.ObjectPath
	uuid   device.UUID
	handle uint16
}

func (d *descriptorBackend) UUID() device.UUID { return d.uuid }
func (d *descriptorBackend) Handle() uint16    { return d.handle }

func (d *descriptorBackend) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := d.peer.a.b.conn.Object(bluezBus, d.path).
		CallWithContext(ctx, gattDescIface+".ReadValue", 0, map[string]dbus.Variant{}).
		Store(&data)
	if err != nil {
		return nil, mapError("read descriptor "+d.uuid.String(), true, err)
	}
	return data, nil
}

func (d *descriptorBackend) Write(ctx context.Context, data []byte) error {
	err := d.peer.a.b.conn.Object(bluezBus, d.path).
		CallWithContext(ctx, gattDescIface+".WriteValue", 0, data, map[string]dbus.Variant{}).Err
	return mapError("write descriptor "+d.uuid.String(), true, err)
}

func uuidProp(props map[string]dbus.Variant) (device.UUID, bool) {
	s, ok := prop[string](props, "UUID")
	if !ok {
		return "", false
	}
	u, err := device.ParseUUID(s)
	return u, err == nil
}

// handleProp prefers the Handle property (BlueZ 5.51+) and falls back to the path suffix.
func handleProp(path dbus.ObjectPath, props map[string]dbus.Variant) (uint16, bool) {
	if h, ok := prop[uint16](props, "Handle"); ok && h != 0 {
		return h, true
	}
	return parseHandle(path)
}

// parseFlags maps GattCharacteristic1.Flags to Properties. Flags without a property bit
// (reliable-write, encrypt-read, ...) are ignored.
func parseFlags(flags []string) device.Properties {
	var p device.Properties
	for _, f := range flags {
		if bit, err := device.ParseProperties(strings.TrimSpace(f)); err == nil {
			p |= bit
		}
	}
	return p
}

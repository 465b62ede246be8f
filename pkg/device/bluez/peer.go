package bluez

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/device"
)

// servicesResolvedPoll is how often DiscoverServices re-checks ServicesResolved.
const servicesResolvedPoll = 100 * time.Millisecond

type peerBackend struct {
	a      *adapterBackend
	id     device.DeviceID
	path   dbus.ObjectPath
	logger *logrus.Entry
}

func newPeerBackend(a *adapterBackend, id device.DeviceID) *peerBackend {
	return &peerBackend{
		a:      a,
		id:     id,
		path:   devicePath(a.path, id),
		logger: a.logger.WithField("device", id),
	}
}

func (p *peerBackend) ID() device.DeviceID { return p.id }

func (p *peerBackend) object() dbus.BusObject {
	return p.a.b.conn.Object(bluezBus, p.path)
}

// Name prefers the remote name and falls back to the alias BlueZ derives from the address.
func (p *peerBackend) Name(ctx context.Context) (string, error) {
	props, err := getAll(ctx, p.a.b.conn, p.path, deviceIface)
	if err != nil {
		return "", mapError("read name", false, err)
	}
	if name, ok := prop[string](props, "Name"); ok {
		return name, nil
	}
	alias, _ := prop[string](props, "Alias")
	return alias, nil
}

func (p *peerBackend) IsConnected(ctx context.Context) (bool, error) {
	connected, err := getProperty[bool](ctx, p.a.b.conn, p.path, deviceIface, "Connected")
	if err != nil {
		// A device BlueZ has forgotten is simply not connected.
		if name := dbusErrorName(err); name == errUnknownObject || name == errUnknownMethod {
			return false, nil
		}
		return false, mapError("read Connected", false, err)
	}
	return connected, nil
}

func (p *peerBackend) Connect(ctx context.Context) error {
	p.logger.Debug("Connecting via BlueZ...")
	err := p.object().CallWithContext(ctx, deviceIface+".Connect", 0).Err
	if err != nil && dbusErrorName(err) != errAlreadyConnected {
		if dbusErrorName(err) == errUnknownObject {
			return device.WrapError(device.NotConnected, err, "device %s is unknown to BlueZ, scan for it first", p.id)
		}
		return mapError("connect", false, err)
	}
	p.logger.Info("BLE device connected")
	return nil
}

func (p *peerBackend) Disconnect(ctx context.Context) error {
	err := p.object().CallWithContext(ctx, deviceIface+".Disconnect", 0).Err
	switch dbusErrorName(err) {
	case errNotConnected, errUnknownObject:
		return nil
	}
	if err != nil {
		return mapError("disconnect", false, err)
	}
	p.logger.Info("BLE device disconnected")
	return nil
}

// Events reports Connected transitions, removed GATT services and other property changes.
func (p *peerBackend) Events(ctx context.Context) (<-chan device.PeerEvent, error) {
	hub := device.NewHub[device.PeerEvent](device.DefaultHubBuffer)
	out := hub.Subscribe(ctx)
	context.AfterFunc(ctx, hub.Close)

	// BlueZ tears the GATT tree down when the link drops; those removals are not database
	// changes. Signals are dispatched one at a time, so resolved needs no lock.
	resolved := true
	p.a.b.signals.watch(ctx, p.path, func(sig *dbus.Signal) {
		if iface, changed, ok := propertiesChange(sig); ok && iface == deviceIface && sig.Path == p.path {
			if v, ok := prop[bool](changed, "ServicesResolved"); ok {
				resolved = v
			}
			if v, ok := prop[bool](changed, "Connected"); ok && !v {
				resolved = false
			}
		}
		for _, ev := range peerEvents(p.path, sig) {
			if ev.Kind == device.PeerServicesChanged && !resolved {
				continue
			}
			hub.Publish(ev)
		}
	})
	return out, nil
}

// peerEvents translates one signal about a device subtree.
func peerEvents(dev dbus.ObjectPath, sig *dbus.Signal) []device.PeerEvent {
	switch sig.Name {
	case propertiesChanged:
		if sig.Path != dev {
			return nil
		}
		iface, changed, ok := propertiesChange(sig)
		if !ok || iface != deviceIface {
			return nil
		}
		var events []device.PeerEvent
		for name := range changed {
			switch name {
			case "Connected":
				if connected, _ := prop[bool](changed, name); connected {
					events = append(events, device.PeerEvent{Kind: device.PeerConnected})
				} else {
					events = append(events, device.PeerEvent{Kind: device.PeerDisconnected})
				}
			default:
				events = append(events, device.PeerEvent{Kind: device.PeerPropertyChanged, Property: name})
			}
		}
		return events
	case interfacesRemoved:
		path, ifaces, ok := interfacesChange(sig)
		if !ok {
			return nil
		}
		for _, iface := range ifaces {
			if iface != gattServiceIface {
				continue
			}
			ev := device.PeerEvent{Kind: device.PeerServicesChanged}
			if h, ok := parseHandle(path); ok {
				ev.Handles = []uint16{h}
			}
			return []device.PeerEvent{ev}
		}
	}
	return nil
}

func (p *peerBackend) ServiceUUIDs(ctx context.Context) ([]device.UUID, error) {
	uuids, err := getProperty[[]string](ctx, p.a.b.conn, p.path, deviceIface, "UUIDs")
	if err != nil {
		return nil, mapError("read UUIDs", false, err)
	}
	out := make([]device.UUID, 0, len(uuids))
	for _, s := range uuids {
		if u, err := device.ParseUUID(s); err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

// DiscoverServices waits for BlueZ to resolve the remote database and lists its services.
func (p *peerBackend) DiscoverServices(ctx context.Context) ([]device.ServiceBackend, error) {
	if err := p.waitServicesResolved(ctx); err != nil {
		return nil, err
	}
	objects, err := p.a.b.managedObjects(ctx)
	if err != nil {
		return nil, err
	}

	var out []device.ServiceBackend
	for _, path := range childrenWith(objects, p.path, gattServiceIface, "Device") {
		s, ok := newServiceBackend(p, path, objects[path][gattServiceIface])
		if ok {
			out = append(out, s)
		}
	}
	p.logger.WithField("services", len(out)).Debug("Services resolved")
	return out, nil
}

func (p *peerBackend) waitServicesResolved(ctx context.Context) error {
	ticker := time.NewTicker(servicesResolvedPoll)
	defer ticker.Stop()
	for {
		props, err := getAll(ctx, p.a.b.conn, p.path, deviceIface)
		if err != nil {
			return mapError("read ServicesResolved", false, err)
		}
		if connected, _ := prop[bool](props, "Connected"); !connected {
			return device.NewError(device.NotConnected, "device %s is not connected", p.id)
		}
		if resolved, _ := prop[bool](props, "ServicesResolved"); resolved {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

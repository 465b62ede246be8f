package bluez

import (
	"context"
	"net"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/device"
)

type adapterBackend struct {
	b      *Backend
	name   string
	path   dbus.ObjectPath
	logger *logrus.Entry
}

func newAdapterBackend(b *Backend, name string) *adapterBackend {
	return &adapterBackend{
		b:      b,
		name:   name,
		path:   adapterPath(name),
		logger: b.logger.WithField("adapter", name),
	}
}

func (a *adapterBackend) ID() string { return a.name }

func (a *adapterBackend) IsPowered(ctx context.Context) (bool, error) {
	powered, err := getProperty[bool](ctx, a.b.conn, a.path, adapterIface, "Powered")
	if err != nil {
		return false, mapError("read Powered", false, err)
	}
	return powered, nil
}

// Events reports Powered changes and device objects coming and going.
func (a *adapterBackend) Events(ctx context.Context) (<-chan device.RawAdapterEvent, error) {
	hub := device.NewHub[device.RawAdapterEvent](device.DefaultHubBuffer)
	out := hub.Subscribe(ctx)
	context.AfterFunc(ctx, hub.Close)

	a.b.signals.watch(ctx, a.path, func(sig *dbus.Signal) {
		if ev, ok := adapterEvent(a.path, sig); ok {
			hub.Publish(ev)
		}
	})
	return out, nil
}

// adapterEvent translates one signal about the adapter subtree.
func adapterEvent(adapter dbus.ObjectPath, sig *dbus.Signal) (device.RawAdapterEvent, bool) {
	switch sig.Name {
	case propertiesChanged:
		if sig.Path != adapter {
			return device.RawAdapterEvent{}, false
		}
		iface, changed, ok := propertiesChange(sig)
		if !ok || iface != adapterIface {
			return device.RawAdapterEvent{}, false
		}
		if powered, ok := prop[bool](changed, "Powered"); ok {
			return device.RawAdapterEvent{Kind: device.RawPowerChanged, Powered: powered}, true
		}
		for name := range changed {
			return device.RawAdapterEvent{Kind: device.RawPropertyChanged, Property: name}, true
		}
	case interfacesAdded, interfacesRemoved:
		path, ifaces, ok := interfacesChange(sig)
		if !ok || !slices.Contains(ifaces, deviceIface) {
			return device.RawAdapterEvent{}, false
		}
		id, ok := deviceIDFromPath(path)
		if !ok {
			return device.RawAdapterEvent{}, false
		}
		kind := device.RawDeviceAdded
		if sig.Name == interfacesRemoved {
			kind = device.RawDeviceRemoved
		}
		return device.RawAdapterEvent{Kind: kind, DeviceID: id}, true
	}
	return device.RawAdapterEvent{}, false
}

func (a *adapterBackend) ParseDeviceID(raw string) (device.DeviceID, error) {
	return ParseDeviceID(raw)
}

// ParseDeviceID accepts a 48-bit MAC address and returns it upper-case, colon separated.
func ParseDeviceID(raw string) (device.DeviceID, error) {
	mac, err := net.ParseMAC(strings.TrimSpace(raw))
	if err != nil || len(mac) != 6 {
		return "", device.ErrInvalidDeviceID
	}
	return device.DeviceID(strings.ToUpper(mac.String())), nil
}

// deviceIDFromPath recovers the address from ".../dev_AA_BB_CC_DD_EE_FF".
func deviceIDFromPath(path dbus.ObjectPath) (device.DeviceID, bool) {
	s := string(path)
	last := s[strings.LastIndexByte(s, '/')+1:]
	rest, ok := strings.CutPrefix(last, "dev_")
	if !ok {
		return "", false
	}
	id, err := ParseDeviceID(strings.ReplaceAll(rest, "_", ":"))
	return id, err == nil
}

func (a *adapterBackend) Peer(id device.DeviceID) (device.PeerBackend, error) {
	return newPeerBackend(a, id), nil
}

func (a *adapterBackend) ConnectedPeers(ctx context.Context) ([]device.PeerBackend, error) {
	objects, err := a.b.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	var out []device.PeerBackend
	for _, path := range childrenWith(objects, a.path, deviceIface, "Adapter") {
		props := objects[path][deviceIface]
		if connected, _ := prop[bool](props, "Connected"); !connected {
			continue
		}
		if id, ok := deviceIDFromPath(path); ok {
			out = append(out, newPeerBackend(a, id))
		}
	}
	return out, nil
}

// Scan runs LE discovery with duplicate reporting until ctx ends. Every device object that
// appears or changes advertisement related properties is reported.
func (a *adapterBackend) Scan(ctx context.Context, services []device.UUID, handler func(device.RawAdvertisement)) error {
	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(true),
	}
	if len(services) > 0 {
		uuids := make([]string, len(services))
		for i, u := range services {
			uuids[i] = u.Full()
		}
		filter["UUIDs"] = dbus.MakeVariant(uuids)
	}

	obj := a.b.conn.Object(bluezBus, a.path)
	if err := obj.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		return mapError("set discovery filter", false, err)
	}

	updates := make(chan dbus.ObjectPath, 256)
	wctx, stop := context.WithCancel(ctx)
	defer stop()
	a.b.signals.watch(wctx, a.path, func(sig *dbus.Signal) {
		if path, ok := advertisementSignal(sig); ok {
			select {
			case updates <- path:
			default:
				a.logger.WithField("path", path).Debug("Scan backlog full, dropping advertisement")
			}
		}
	})

	if err := obj.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		return mapError("start discovery", false, err)
	}
	a.logger.Debug("LE discovery started")
	defer func() {
		if err := obj.Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
			a.logger.WithError(err).Debug("StopDiscovery failed")
		}
		a.logger.Debug("LE discovery stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-updates:
			props, err := getAll(ctx, a.b.conn, path, deviceIface)
			if err != nil {
				continue
			}
			if connected, _ := prop[bool](props, "Connected"); connected {
				continue
			}
			id, ok := deviceIDFromPath(path)
			if !ok {
				continue
			}
			handler(advertisementFromProps(id, props))
		}
	}
}

// advertisementSignal returns the device path a signal reports fresh advertisement data for.
func advertisementSignal(sig *dbus.Signal) (dbus.ObjectPath, bool) {
	switch sig.Name {
	case interfacesAdded:
		path, ifaces, ok := interfacesChange(sig)
		if ok && slices.Contains(ifaces, deviceIface) {
			return path, true
		}
	case propertiesChanged:
		iface, changed, ok := propertiesChange(sig)
		if !ok || iface != deviceIface {
			return "", false
		}
		for _, name := range []string{"RSSI", "ManufacturerData", "ServiceData", "TxPower", "Name"} {
			if _, ok := changed[name]; ok {
				return sig.Path, true
			}
		}
	}
	return "", false
}

// advertisementFromProps builds advertisement data from Device1 properties.
func advertisementFromProps(id device.DeviceID, props map[string]dbus.Variant) device.RawAdvertisement {
	raw := device.RawAdvertisement{ID: id}
	data := &raw.Data

	data.LocalName, _ = prop[string](props, "Name")
	// BlueZ does not expose the advertising PDU type.
	data.Connectable = true

	if uuids, ok := prop[[]string](props, "UUIDs"); ok {
		for _, s := range uuids {
			if u, err := device.ParseUUID(s); err == nil {
				data.Services = append(data.Services, u)
			}
		}
	}
	if md, ok := prop[map[uint16]dbus.Variant](props, "ManufacturerData"); ok && len(md) > 0 {
		data.ManufacturerData = make(map[uint16][]byte, len(md))
		for company, v := range md {
			if b, ok := v.Value().([]byte); ok {
				data.ManufacturerData[company] = b
			}
		}
	}
	if sd, ok := prop[map[string]dbus.Variant](props, "ServiceData"); ok && len(sd) > 0 {
		data.ServiceData = make(map[device.UUID][]byte, len(sd))
		for s, v := range sd {
			u, err := device.ParseUUID(s)
			if b, ok := v.Value().([]byte); ok && err == nil {
				data.ServiceData[u] = b
			}
		}
	}
	if tx, ok := prop[int16](props, "TxPower"); ok {
		level := int(tx)
		data.TxPowerLevel = &level
	}
	if rssi, ok := prop[int16](props, "RSSI"); ok {
		raw.RSSI = &rssi
	}
	return raw
}

package bluez

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/srg/gattkit/pkg/device"
)

// BlueZ D-Bus names.
const (
	bluezBus          = "org.bluez"
	bluezRoot         = "/org/bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	gattServiceIface  = "org.bluez.GattService1"
	gattCharIface     = "org.bluez.GattCharacteristic1"
	gattDescIface     = "org.bluez.GattDescriptor1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	propertiesChanged = dbusProperties + ".PropertiesChanged"
	interfacesAdded   = dbusObjectManager + ".InterfacesAdded"
	interfacesRemoved = dbusObjectManager + ".InterfacesRemoved"
)

// managedObjects is the reply of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZ and D-Bus error names the backend classifies.
const (
	errNotConnected     = "org.bluez.Error.NotConnected"
	errAlreadyConnected = "org.bluez.Error.AlreadyConnected"
	errNotSupported     = "org.bluez.Error.NotSupported"
	errNotReady         = "org.bluez.Error.NotReady"
	errDoesNotExist     = "org.bluez.Error.DoesNotExist"
	errUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	errServiceUnknown   = "org.freedesktop.DBus.Error.ServiceUnknown"
)

const backendName = "bluez"

// dbusErrorName returns the D-Bus error name carried by err, or "".
func dbusErrorName(err error) string {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name
	}
	var dep *dbus.Error
	if errors.As(err, &dep) && dep != nil {
		return dep.Name
	}
	return ""
}

// mapError classifies a D-Bus failure. gatt selects how a vanished object is reported:
// for GATT objects it means the remote database changed, for devices that the link is gone.
func mapError(op string, gatt bool, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch name := dbusErrorName(err); name {
	case errNotConnected:
		return device.WrapError(device.NotConnected, err, "%s", op)
	case errNotSupported:
		return device.WrapError(device.NotSupported, err, "%s", op)
	case errNotReady:
		return fmt.Errorf("%w: %s: %v", device.ErrBluetoothOff, op, err)
	case errUnknownObject, errUnknownMethod, errDoesNotExist:
		if gatt {
			return device.WrapError(device.ServiceChanged, err, "%s", op)
		}
		return device.WrapError(device.NotConnected, err, "%s", op)
	}
	return device.NewBackendError(backendName, op, err)
}

// adapterPath returns the object path of the named adapter.
func adapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath(bluezRoot + "/" + name)
}

// devicePath returns the object path of a peer below an adapter.
func devicePath(adapter dbus.ObjectPath, id device.DeviceID) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(string(id), ":", "_"))
}

// parseHandle extracts the attribute handle from the last path element of a GATT object,
// e.g. ".../service000a" or ".../char000b" or ".../desc000d".
func parseHandle(path dbus.ObjectPath) (uint16, bool) {
	s := string(path)
	last := s[strings.LastIndexByte(s, '/')+1:]
	for _, prefix := range []string{"service", "char", "desc"} {
		if rest, ok := strings.CutPrefix(last, prefix); ok {
			h, err := strconv.ParseUint(rest, 16, 16)
			return uint16(h), err == nil
		}
	}
	return 0, false
}

// under reports whether path is a descendant of parent.
func under(path, parent dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(parent)+"/")
}

// prop reads one typed value from a property map.
func prop[T any](props map[string]dbus.Variant, name string) (T, bool) {
	var zero T
	v, ok := props[name]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	return t, ok
}

// getProperty reads one typed property of a BlueZ object.
func getProperty[T any](ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath, iface, name string) (T, error) {
	var zero T
	var v dbus.Variant
	err := conn.Object(bluezBus, path).CallWithContext(ctx, dbusProperties+".Get", 0, iface, name).Store(&v)
	if err != nil {
		return zero, err
	}
	t, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, name, v.Value())
	}
	return t, nil
}

// getAll reads every property of a BlueZ object interface.
func getAll(ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	err := conn.Object(bluezBus, path).CallWithContext(ctx, dbusProperties+".GetAll", 0, iface).Store(&props)
	return props, err
}

// propertiesChange decodes a PropertiesChanged signal body.
func propertiesChange(sig *dbus.Signal) (iface string, changed map[string]dbus.Variant, ok bool) {
	if sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok = sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	changed, ok = sig.Body[1].(map[string]dbus.Variant)
	return iface, changed, ok
}

// interfacesChange decodes an InterfacesAdded or InterfacesRemoved signal body into the
// object path and the names of the interfaces involved.
func interfacesChange(sig *dbus.Signal) (dbus.ObjectPath, []string, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return "", nil, false
	}
	switch body := sig.Body[1].(type) {
	case []string:
		return path, body, true
	case map[string]map[string]dbus.Variant:
		ifaces := make([]string, 0, len(body))
		for name := range body {
			ifaces = append(ifaces, name)
		}
		return path, ifaces, true
	}
	return "", nil, false
}

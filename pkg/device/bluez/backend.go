// Package bluez implements the device backend contract on the BlueZ D-Bus API (Linux).
//
// The backend shares the process-wide system bus connection from dbus.SystemBus and never
// closes it. Link it in with a blank import:
//
//	import _ "github.com/srg/gattkit/pkg/device/bluez"
package bluez

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/device"
)

// Priority ranks BlueZ above go-ble, which needs raw HCI access.
const Priority = 20

func init() {
	device.RegisterBackend(backendName, Priority, Open)
}

// Backend is a BlueZ session on the system bus.
type Backend struct {
	conn    *dbus.Conn
	logger  *logrus.Logger
	signals *signalRouter
	adapter string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Open attaches to the system bus and subscribes to BlueZ signals.
func Open(ctx context.Context, opts device.BackendOptions) (device.Backend, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %v", device.ErrNoAdapter, err)
	}

	var objects managedObjects
	if err := conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		if dbusErrorName(err) == errServiceUnknown {
			return nil, fmt.Errorf("%w: bluetoothd is not running", device.ErrNoAdapter)
		}
		return nil, mapError("list objects", false, err)
	}

	if err := conn.AddMatchSignal(dbus.WithMatchSender(bluezBus)); err != nil {
		return nil, device.NewBackendError(backendName, "add signal match", err)
	}

	bctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		conn:    conn,
		logger:  opts.Logger,
		signals: newSignalRouter(opts.Logger),
		adapter: opts.AdapterName,
		ctx:     bctx,
		cancel:  cancel,
	}
	conn.Signal(b.signals.ch)
	b.signals.run(bctx)

	opts.Logger.WithField("objects", len(objects)).Debug("BlueZ session opened")
	return b, nil
}

func (b *Backend) Name() string { return backendName }

// DefaultAdapter returns the configured adapter, or the first one BlueZ lists.
func (b *Backend) DefaultAdapter(ctx context.Context) (device.AdapterBackend, error) {
	objects, err := b.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	names := adapterNames(objects)
	if len(names) == 0 {
		return nil, device.ErrNoAdapter
	}

	name := names[0]
	if b.adapter != "" {
		name = b.adapter
		if _, ok := objects[adapterPath(name)][adapterIface]; !ok {
			return nil, fmt.Errorf("%w: %s (available: %s)", device.ErrNoAdapter, name, strings.Join(names, ", "))
		}
	}
	return newAdapterBackend(b, name), nil
}

// Close stops signal delivery. The shared system bus stays open.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.conn.RemoveSignal(b.signals.ch)
		if err := b.conn.RemoveMatchSignal(dbus.WithMatchSender(bluezBus)); err != nil {
			b.logger.WithError(err).Debug("Failed to remove BlueZ signal match")
		}
		b.cancel()
	})
	return nil
}

func (b *Backend) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	err := b.conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, mapError("list objects", false, err)
	}
	return objects, nil
}

// adapterNames lists adapter names (hci0, hci1, ...) in sorted order.
func adapterNames(objects managedObjects) []string {
	var names []string
	for path, ifaces := range objects {
		if _, ok := ifaces[adapterIface]; ok {
			s := string(path)
			names = append(names, s[strings.LastIndexByte(s, '/')+1:])
		}
	}
	sort.Strings(names)
	return names
}

// childrenWith returns objects below parent that implement iface and whose ref property
// (e.g. "Device" or "Service") points at parent, sorted by path.
func childrenWith(objects managedObjects, parent dbus.ObjectPath, iface, ref string) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for path, ifaces := range objects {
		props, ok := ifaces[iface]
		if !ok || !under(path, parent) {
			continue
		}
		if owner, ok := prop[dbus.ObjectPath](props, ref); ok && owner != parent {
			continue
		}
		out = append(out, path)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDevice = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		gatt     bool
		sentinel error
	}{
		{name: "not connected", err: dbus.Error{Name: errNotConnected}, sentinel: device.ErrNotConnected},
		{name: "not supported", err: dbus.Error{Name: errNotSupported}, gatt: true, sentinel: device.ErrNotSupported},
		{name: "adapter off", err: dbus.Error{Name: errNotReady}, sentinel: device.ErrBluetoothOff},
		{name: "gatt object vanished", err: dbus.Error{Name: errUnknownObject}, gatt: true, sentinel: device.ErrServiceChanged},
		{name: "device vanished", err: dbus.Error{Name: errUnknownObject}, sentinel: device.ErrNotConnected},
		{name: "pointer form", err: &dbus.Error{Name: errNotConnected}, sentinel: device.ErrNotConnected},
		{name: "wrapped", err: fmt.Errorf("call: %w", dbus.Error{Name: errNotSupported}), sentinel: device.ErrNotSupported},
		{name: "deadline passes through", err: context.DeadlineExceeded, sentinel: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("read", tt.gatt, tt.err), tt.sentinel)
		})
	}

	t.Run("unknown failures are backend errors", func(t *testing.T) {
		native := dbus.Error{Name: "org.bluez.Error.NotPermitted", Body: []interface{}{"Read not permitted"}}
		err := mapError("read 2a19", true, native)
		var be *device.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "bluez", be.Backend)
		assert.Equal(t, device.ErrorKind(""), device.KindOf(err))
		assert.Equal(t, "org.bluez.Error.NotPermitted", dbusErrorName(err))
	})

	assert.NoError(t, mapError("read", true, nil))
	assert.Empty(t, dbusErrorName(errors.New("plain")))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), adapterPath("hci1"))
	assert.Equal(t, testDevice, devicePath(adapterPath("hci0"), "AA:BB:CC:DD:EE:FF"))

	id, ok := deviceIDFromPath(testDevice)
	require.True(t, ok)
	assert.Equal(t, device.DeviceID("AA:BB:CC:DD:EE:FF"), id)
	_, ok = deviceIDFromPath(testDevice + "/service000a")
	assert.False(t, ok)

	assert.True(t, under(testDevice+"/service000a", testDevice))
	assert.False(t, under(testDevice, testDevice))
	assert.False(t, under("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF0", testDevice))
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		path     dbus.ObjectPath
		expected uint16
		ok       bool
	}{
		{path: testDevice + "/service000a", expected: 0x0a, ok: true},
		{path: testDevice + "/service000a/char000b", expected: 0x0b, ok: true},
		{path: testDevice + "/service000a/char000b/desc000d", expected: 0x0d, ok: true},
		{path: testDevice + "/service00zz", ok: false},
		{path: testDevice, ok: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.path), func(t *testing.T) {
			h, ok := parseHandle(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, h)
		})
	}

	h, ok := handleProp(testDevice+"/service000a", map[string]dbus.Variant{"Handle": dbus.MakeVariant(uint16(0x20))})
	assert.True(t, ok)
	assert.Equal(t, uint16(0x20), h, "Handle property MUST win over the path")
}

func TestParseDeviceID(t *testing.T) {
	id, err := ParseDeviceID("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID("AA:BB:CC:DD:EE:FF"), id)

	for _, bad := range []string{"", "5a1c6b3e-4f2d-4e5a-9c1b-0d2e3f4a5b6c", "00:11:22:33:44:55:66:77"} {
		_, err := ParseDeviceID(bad)
		assert.ErrorIs(t, err, device.ErrInvalidDeviceID, "MUST reject %q", bad)
	}
}

func TestParseFlags(t *testing.T) {
	assert.Equal(t, device.PropRead|device.PropNotify, parseFlags([]string{"read", "notify"}))
	assert.Equal(t, device.PropWriteWithoutResponse|device.PropIndicate,
		parseFlags([]string{"write-without-response", "indicate", "reliable-write", "encrypt-read"}),
		"flags without a property bit MUST be ignored")
	assert.Equal(t, device.Properties(0), parseFlags(nil))
}

func TestAdvertisementFromProps(t *testing.T) {
	props := map[string]dbus.Variant{
		"Name":  dbus.MakeVariant("HRM"),
		"UUIDs": dbus.MakeVariant([]string{"0000180d-0000-1000-8000-00805f9b34fb", "bogus"}),
		"ManufacturerData": dbus.MakeVariant(map[uint16]dbus.Variant{
			0x004c: dbus.MakeVariant([]byte{0x02, 0x15}),
		}),
		"ServiceData": dbus.MakeVariant(map[string]dbus.Variant{
			"0000180f-0000-1000-8000-00805f9b34fb": dbus.MakeVariant([]byte{0x55}),
		}),
		"TxPower": dbus.MakeVariant(int16(4)),
		"RSSI":    dbus.MakeVariant(int16(-61)),
	}

	raw := advertisementFromProps("AA:BB:CC:DD:EE:FF", props)
	assert.Equal(t, device.DeviceID("AA:BB:CC:DD:EE:FF"), raw.ID)
	assert.Equal(t, "HRM", raw.Data.LocalName)
	assert.Equal(t, []device.UUID{"180d"}, raw.Data.Services)
	assert.Equal(t, map[uint16][]byte{0x004c: {0x02, 0x15}}, raw.Data.ManufacturerData)
	assert.Equal(t, map[device.UUID][]byte{"180f": {0x55}}, raw.Data.ServiceData)
	require.NotNil(t, raw.Data.TxPowerLevel)
	assert.Equal(t, 4, *raw.Data.TxPowerLevel)
	require.NotNil(t, raw.RSSI)
	assert.Equal(t, int16(-61), *raw.RSSI)

	empty := advertisementFromProps("AA:BB:CC:DD:EE:FF", map[string]dbus.Variant{})
	assert.Nil(t, empty.RSSI)
	assert.Nil(t, empty.Data.TxPowerLevel)
}

func changedSignal(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{Path: path, Name: propertiesChanged, Body: []interface{}{iface, changed, []string{}}}
}

func TestAdapterEvent(t *testing.T) {
	adapter := adapterPath("hci0")

	ev, ok := adapterEvent(adapter, changedSignal(adapter, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}))
	require.True(t, ok)
	assert.Equal(t, device.RawAdapterEvent{Kind: device.RawPowerChanged, Powered: false}, ev)

	ev, ok = adapterEvent(adapter, changedSignal(adapter, adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}))
	require.True(t, ok)
	assert.Equal(t, device.RawAdapterEvent{Kind: device.RawPropertyChanged, Property: "Discovering"}, ev)

	added := &dbus.Signal{Path: "/", Name: interfacesAdded, Body: []interface{}{
		testDevice, map[string]map[string]dbus.Variant{deviceIface: {}},
	}}
	ev, ok = adapterEvent(adapter, added)
	require.True(t, ok)
	assert.Equal(t, device.RawAdapterEvent{Kind: device.RawDeviceAdded, DeviceID: "AA:BB:CC:DD:EE:FF"}, ev)

	_, ok = adapterEvent(adapter, changedSignal(testDevice, deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-50))}))
	assert.False(t, ok, "device property changes MUST NOT become adapter events")
}

func TestPeerEvents(t *testing.T) {
	evs := peerEvents(testDevice, changedSignal(testDevice, deviceIface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}))
	assert.Equal(t, []device.PeerEvent{{Kind: device.PeerDisconnected}}, evs)

	evs = peerEvents(testDevice, changedSignal(testDevice, deviceIface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}))
	assert.Equal(t, []device.PeerEvent{{Kind: device.PeerConnected}}, evs)

	removed := &dbus.Signal{Path: "/", Name: interfacesRemoved, Body: []interface{}{
		testDevice + "/service000a", []string{gattServiceIface},
	}}
	assert.Equal(t, []device.PeerEvent{{Kind: device.PeerServicesChanged, Handles: []uint16{0x0a}}}, peerEvents(testDevice, removed))

	charRemoved := &dbus.Signal{Path: "/", Name: interfacesRemoved, Body: []interface{}{
		testDevice + "/service000a/char000b", []string{gattCharIface},
	}}
	assert.Empty(t, peerEvents(testDevice, charRemoved))
}

func TestAdvertisementSignal(t *testing.T) {
	path, ok := advertisementSignal(changedSignal(testDevice, deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}))
	assert.True(t, ok)
	assert.Equal(t, testDevice, path)

	_, ok = advertisementSignal(changedSignal(testDevice, deviceIface, map[string]dbus.Variant{"Trusted": dbus.MakeVariant(true)}))
	assert.False(t, ok)
}

func TestSignalRouter(t *testing.T) {
	r := newSignalRouter(logrus.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.run(ctx)

	var mine, other atomic.Int32
	wctx, stop := context.WithCancel(ctx)
	r.watch(wctx, testDevice, func(*dbus.Signal) { mine.Add(1) })
	r.watch(ctx, "/org/bluez/hci1", func(*dbus.Signal) { other.Add(1) })

	r.ch <- changedSignal(testDevice+"/service000a/char000b", gattCharIface, nil)
	r.ch <- &dbus.Signal{Path: "/", Name: interfacesRemoved, Body: []interface{}{testDevice + "/service000a", []string{gattServiceIface}}}
	assert.Eventually(t, func() bool { return mine.Load() == 2 }, time.Second, 5*time.Millisecond,
		"ObjectManager signals MUST be routed by the object in their body")

	stop()
	assert.Eventually(t, func() bool { return r.watchers.Len() == 1 }, time.Second, 5*time.Millisecond)
	r.ch <- changedSignal(testDevice, deviceIface, nil)
	r.ch <- changedSignal("/org/bluez/hci1", adapterIface, nil)
	assert.Eventually(t, func() bool { return other.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), mine.Load(), "a stopped watcher MUST NOT receive signals")
}

func TestChildrenWith(t *testing.T) {
	svc := testDevice + "/service000a"
	objects := managedObjects{
		testDevice:                 {deviceIface: {}},
		svc + "/char000c":          {gattCharIface: {"Service": dbus.MakeVariant(svc)}},
		svc + "/char000b":          {gattCharIface: {"Service": dbus.MakeVariant(svc)}},
		svc + "/char000b/desc000d": {gattDescIface: {}},
		"/org/bluez/hci0/dev_11_22_33_44_55_66/service000a/char000b": {gattCharIface: {}},
	}
	assert.Equal(t, []dbus.ObjectPath{svc + "/char000b", svc + "/char000c"}, childrenWith(objects, svc, gattCharIface, "Service"))
	assert.Equal(t, []string(nil), adapterNames(objects))

	objects["/org/bluez/hci1"] = map[string]map[string]dbus.Variant{adapterIface: {}}
	objects["/org/bluez/hci0"] = map[string]map[string]dbus.Variant{adapterIface: {}}
	assert.Equal(t, []string{"hci0", "hci1"}, adapterNames(objects))
}

//go:build test

package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/gattkit/internal/testutils"
	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// AdapterTestSuite covers availability, events and device enumeration on the default radio
type AdapterTestSuite struct {
	testutils.MockRadioSuite
}

func (suite *AdapterTestSuite) waitAvailableAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- suite.Adapter.WaitAvailable(ctx) }()
	suite.Require().Eventually(func() bool {
		return suite.Radio.EventSubscribers() > 0
	}, time.Second, 5*time.Millisecond, "WaitAvailable MUST subscribe to adapter events")
	return done
}

func (suite *AdapterTestSuite) TestWaitAvailable() {
	// GOAL: Verify WaitAvailable returns as soon as the radio is powered
	//
	// TEST SCENARIO: Powered, unpowered-then-powered, vanished and cancelled radios → expected outcome per case

	suite.Run("powered radio returns without subscribing", func() {
		// GOAL: Verify a powered radio never touches the event source
		//
		// TEST SCENARIO: Radio powered → WaitAvailable returns nil → Events never called

		suite.Require().NoError(suite.Adapter.WaitAvailable(suite.Context()))
		suite.Radio.Adapter.AssertNotCalled(suite.T(), "Events", mock.Anything)
	})

	suite.Run("unpowered radio waits for power", func() {
		// GOAL: Verify WaitAvailable blocks until the radio reports Available
		//
		// TEST SCENARIO: Radio off → WaitAvailable blocks → radio on → returns nil and releases subscription

		suite.Radio.SetPowered(false)
		done := suite.waitAvailableAsync(suite.Context())

		select {
		case err := <-done:
			suite.Failf("WaitAvailable returned early", "MUST block while unpowered, got %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		suite.Radio.SetPowered(true)
		select {
		case err := <-done:
			suite.NoError(err, "WaitAvailable MUST succeed once powered")
		case <-time.After(time.Second):
			suite.Fail("WaitAvailable MUST return after the radio powers on")
		}
		suite.Eventually(func() bool { return suite.Radio.EventSubscribers() == 0 },
			time.Second, 5*time.Millisecond, "event subscription MUST be released")
	})

	suite.Run("event source closing is an internal error", func() {
		// GOAL: Verify a vanished event source fails WaitAvailable with Internal
		//
		// TEST SCENARIO: Radio off → WaitAvailable waits → events closed → Internal error

		suite.Radio.SetPowered(false)
		done := suite.waitAvailableAsync(suite.Context())

		suite.Radio.CloseEvents()
		err := <-done
		suite.ErrorIs(err, device.ErrInternal, "closed event stream MUST surface as Internal")
	})
}

func (suite *AdapterTestSuite) TestWaitAvailableCancelled() {
	// GOAL: Verify cancellation ends the wait with the context error
	//
	// TEST SCENARIO: Radio off → WaitAvailable waits → ctx cancelled → context.Canceled

	suite.Radio.SetPowered(false)
	ctx, cancel := context.WithCancel(suite.Context())
	done := suite.waitAvailableAsync(ctx)

	cancel()
	suite.ErrorIs(<-done, context.Canceled, "cancelled wait MUST return the context error")
}

func (suite *AdapterTestSuite) TestEvents() {
	// GOAL: Verify only power transitions are surfaced, in order
	//
	// TEST SCENARIO: Mixed raw events → Unavailable, Available → other kinds dropped

	events, err := suite.Adapter.Events(suite.Context())
	suite.Require().NoError(err)
	defer events.Close()

	suite.Radio.Publish(device.RawAdapterEvent{Kind: device.RawDeviceAdded, DeviceID: "11:22:33:44:55:66"})
	suite.Radio.SetPowered(false)
	suite.Radio.Publish(device.RawAdapterEvent{Kind: device.RawPropertyChanged, Property: "Alias"})
	suite.Radio.SetPowered(true)

	first, err := events.Next(suite.Context())
	suite.Require().NoError(err)
	suite.Equal(device.AdapterUnavailable, first, "first event MUST be Unavailable")

	second, err := events.Next(suite.Context())
	suite.Require().NoError(err)
	suite.Equal(device.AdapterAvailable, second, "second event MUST be Available")

	events.Close()
	suite.Eventually(func() bool { return suite.Radio.EventSubscribers() == 0 },
		time.Second, 5*time.Millisecond, "closing the stream MUST release the subscription")
}

func (suite *AdapterTestSuite) TestConnectedDevices() {
	suite.Run("snapshot", func() {
		// GOAL: Verify connected peers are returned as interned devices
		//
		// TEST SCENARIO: One connected peer → one device equal to OpenDevice of the same address

		devices, err := suite.Adapter.ConnectedDevices(suite.Context())
		suite.Require().NoError(err)
		suite.Require().Len(devices, 1, "MUST report the connected peripheral")
		suite.Same(suite.OpenDevice(testutils.DefaultPeripheralAddress), devices[0], "device handles MUST be interned")
	})

	suite.Run("service filter", func() {
		// GOAL: Verify the service filter keeps peers exposing any listed service
		//
		// TEST SCENARIO: Filter by 180F → device; filter by 180D → none

		battery, err := suite.Adapter.ConnectedDevicesWithServices(suite.Context(), []device.UUID{device.UUID16(0x180f)})
		suite.Require().NoError(err)
		suite.Len(battery, 1, "peer with battery service MUST match")

		heartRate, err := suite.Adapter.ConnectedDevicesWithServices(suite.Context(), []device.UUID{device.UUID16(0x180d)})
		suite.Require().NoError(err)
		suite.Empty(heartRate, "peer without heart rate service MUST NOT match")
	})

	suite.Run("empty service list is rejected before I/O", func() {
		// GOAL: Verify an empty filter is a precondition failure
		//
		// TEST SCENARIO: Empty services → ErrInvalidArgument → ConnectedPeers never called

		suite.Radio.Adapter.Calls = nil
		_, err := suite.Adapter.ConnectedDevicesWithServices(suite.Context(), nil)
		suite.ErrorIs(err, device.ErrInvalidArgument, "empty services MUST be rejected")
		suite.Radio.Adapter.AssertNotCalled(suite.T(), "ConnectedPeers", mock.Anything)
	})
}

func (suite *AdapterTestSuite) TestOpenDevice() {
	suite.Run("interned and case-insensitive", func() {
		// GOAL: Verify OpenDevice returns one handle per peer
		//
		// TEST SCENARIO: Open the same address twice in different case → same handle, Equal true

		a := suite.OpenDevice("AA:BB:CC:DD:EE:FF")
		b := suite.OpenDevice("aa:bb:cc:dd:ee:ff")
		suite.Same(a, b, "handles MUST be interned")
		suite.True(a.Equal(b))
		suite.True(a.Adapter().Equal(suite.Adapter), "device MUST belong to the adapter")
	})

	suite.Run("invalid identifier", func() {
		// GOAL: Verify malformed identifiers are rejected without radio I/O
		//
		// TEST SCENARIO: OpenDevice("not-a-mac") → ErrInvalidDeviceID

		_, err := suite.Adapter.OpenDevice("not-a-mac")
		suite.ErrorIs(err, device.ErrInvalidDeviceID)
		suite.Radio.Adapter.AssertNotCalled(suite.T(), "Peer", device.DeviceID("not-a-mac"))
	})
}

func (suite *AdapterTestSuite) TestDiscoverDevicesStopsBeforeScan() {
	// GOAL: Verify a consumer satisfied by connected devices never starts a scan
	//
	// TEST SCENARIO: Take first item → connected device → close → Scan never called

	stream, err := suite.Adapter.DiscoverDevices(suite.Context(), nil)
	suite.Require().NoError(err)

	d, err := stream.Next(suite.Context())
	suite.Require().NoError(err)
	suite.Equal(device.DeviceID(testutils.DefaultPeripheralAddress), d.ID(), "first item MUST be the connected device")

	stream.Close()
	suite.Radio.Adapter.AssertNotCalled(suite.T(), "Scan", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *AdapterTestSuite) TestSessionClose() {
	// GOAL: Verify a closed session refuses to vend adapters
	//
	// TEST SCENARIO: Close session → DefaultAdapter → Internal error → second Close is a no-op

	suite.Require().NoError(suite.Session.Close())
	_, err := suite.Session.DefaultAdapter(suite.Context())
	suite.True(errors.Is(err, device.ErrInternal), "closed session MUST fail with Internal")
	suite.Equal("mock", suite.Session.Backend())
}

func (suite *AdapterTestSuite) TestConnectDisconnect() {
	// GOAL: Verify connect and disconnect are idempotent
	//
	// TEST SCENARIO: Connected peer → connect is a no-op → disconnect twice → one backend call → connect again

	ctx := suite.Context()
	d := suite.OpenDevice(testutils.DefaultPeripheralAddress)
	p := suite.Radio.Peripheral(testutils.DefaultPeripheralAddress)

	suite.Require().NoError(suite.Adapter.ConnectDevice(ctx, d), "connecting a connected device MUST NOT fail")
	p.Mock.AssertNotCalled(suite.T(), "Connect", mock.Anything)

	suite.Require().NoError(suite.Adapter.DisconnectDevice(ctx, d))
	suite.Require().NoError(suite.Adapter.DisconnectDevice(ctx, d), "disconnecting a disconnected device MUST NOT fail")
	p.Mock.AssertNumberOfCalls(suite.T(), "Disconnect", 1)

	connected, err := d.IsConnected(ctx)
	suite.Require().NoError(err)
	suite.False(connected)

	suite.Require().NoError(suite.Adapter.ConnectDevice(ctx, d))
	connected, err = d.IsConnected(ctx)
	suite.Require().NoError(err)
	suite.True(connected, "device MUST be connected after ConnectDevice")
}

func (suite *AdapterTestSuite) TestDeviceConnectionEvents() {
	// GOAL: Verify per-device connection events carry only connection transitions, in order
	//
	// TEST SCENARIO: services changed, disconnect, reconnect → Disconnected then Connected → close releases the subscription

	ctx := suite.Context()
	d := suite.OpenDevice(testutils.DefaultPeripheralAddress)
	p := suite.Radio.Peripheral(testutils.DefaultPeripheralAddress)
	baseline := p.Subscribers()

	stream, err := d.ConnectionEvents(ctx)
	suite.Require().NoError(err)

	p.ChangeServices()
	p.SetConnected(false)
	p.SetConnected(true)

	ev, err := stream.Next(ctx)
	suite.Require().NoError(err)
	suite.Equal(device.Disconnected, ev, "services changed MUST be filtered out")

	ev, err = stream.Next(ctx)
	suite.Require().NoError(err)
	suite.Equal(device.Connected, ev)

	stream.Close()
	suite.Eventually(func() bool {
		return p.Subscribers() == baseline
	}, time.Second, 5*time.Millisecond, "closing the stream MUST release the peer subscription")
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}

// DeviceCacheTestSuite runs the default radio with room for two interned device handles
type DeviceCacheTestSuite struct {
	testutils.MockRadioSuite
}

func (suite *DeviceCacheTestSuite) SetupTest() {
	suite.Options = device.Options{DeviceCacheSize: 2}
	suite.MockRadioSuite.SetupTest()
}

func (suite *DeviceCacheTestSuite) openOthers() {
	for _, addr := range []string{"11:22:33:44:55:01", "11:22:33:44:55:02", "11:22:33:44:55:03"} {
		suite.OpenDevice(addr)
	}
}

func (suite *DeviceCacheTestSuite) TestPlainHandlesAreEvicted() {
	// GOAL: Verify handles without a service tree stay bounded by DeviceCacheSize
	//
	// TEST SCENARIO: Open X → open three other devices → reopen X → a new handle equal to the old one

	first := suite.OpenDevice("11:22:33:44:55:66")
	suite.openOthers()
	again := suite.OpenDevice("11:22:33:44:55:66")

	suite.NotSame(first, again, "untouched handles MUST be evictable")
	suite.True(first.Equal(again), "evicted and fresh handles MUST compare equal")
}

func (suite *DeviceCacheTestSuite) TestDiscoveredDeviceSurvivesEviction() {
	// GOAL: Verify a device with discovered services keeps one tree and one notification toggle
	//
	// TEST SCENARIO: Notify on 2A19 → open three other devices → re-navigate → same handles →
	// second Notify joins → closing the first stream leaves the peer notifying → closing the last disables once

	ctx := suite.Context()
	pc := suite.Radio.Peripheral(testutils.DefaultPeripheralAddress).Characteristic("180F", "2A19")

	c1 := suite.Characteristic(testutils.DefaultPeripheralAddress, "180F", "2A19")
	s1, err := c1.Notify(ctx)
	suite.Require().NoError(err)

	suite.openOthers()

	c2 := suite.Characteristic(testutils.DefaultPeripheralAddress, "180F", "2A19")
	suite.Require().Same(c1, c2, "re-navigation MUST reach the same characteristic handle")
	suite.Same(c1.Service().Device(), suite.OpenDevice(testutils.DefaultPeripheralAddress))

	s2, err := c2.Notify(ctx)
	suite.Require().NoError(err)
	pc.Mock.AssertNumberOfCalls(suite.T(), "EnableNotify", 1)
	suite.Equal(2, c1.Subscribers())

	s1.Close()
	suite.True(pc.Notifying(), "peer toggle MUST stay on while a stream is open")
	pc.Mock.AssertNotCalled(suite.T(), "DisableNotify", mock.Anything)

	suite.True(pc.Notify([]byte{7}))
	v, err := s2.Next(ctx)
	suite.Require().NoError(err)
	suite.Equal([]byte{7}, v)

	s2.Close()
	suite.False(pc.Notifying())
	pc.Mock.AssertNumberOfCalls(suite.T(), "DisableNotify", 1)
}

func (suite *DeviceCacheTestSuite) TestSessionCloseStopsMonitors() {
	// GOAL: Verify device monitors end with the session
	//
	// TEST SCENARIO: Discover services → monitor subscribed → Close session → no peer subscriptions left

	p := suite.Radio.Peripheral(testutils.DefaultPeripheralAddress)
	suite.Characteristic(testutils.DefaultPeripheralAddress, "180F", "2A19")
	suite.Require().Eventually(func() bool { return p.Subscribers() == 1 },
		time.Second, 5*time.Millisecond, "discovered device MUST be monitored")

	suite.Require().NoError(suite.Session.Close())
	suite.Eventually(func() bool { return p.Subscribers() == 0 },
		time.Second, 5*time.Millisecond, "closing the session MUST stop device monitors")
}

func TestDeviceCacheTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceCacheTestSuite))
}

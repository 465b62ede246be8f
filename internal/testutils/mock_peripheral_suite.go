//go:build test

package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/suite"
)

// DefaultPeripheralAddress is the address of the peripheral every MockRadioSuite starts with
// unless a test configures its own radio.
const DefaultPeripheralAddress = "aa:bb:cc:dd:ee:ff"

// MockRadioSuite provides a reusable test suite with a mocked radio behind a real
// device.Session.
//
// Basic usage (automatic setup with a connected battery-service peripheral):
//
//	type SimpleSuite struct {
//	    testutils.MockRadioSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom radio usage:
//
//	func (s *HeartRateSuite) SetupTest() {
//	    // Configure the radio first
//	    s.WithRadio().
//	        WithPeripheral(testutils.NewPeripheralDeviceBuilder("11:22:33:44:55:66").
//	            WithConnected(true).
//	            WithService("180D").
//	            WithCharacteristic("2A37", "read,notify", []byte{80}))
//
//	    s.MockRadioSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockRadioSuite struct {
	suite.Suite

	Logger      *logrus.Logger
	TestTimeout time.Duration

	// RadioBuilder configures the mocked radio; nil selects the default profile
	RadioBuilder *RadioBuilder
	// Options are passed to the session; Logger is filled in when empty
	Options device.Options

	Radio   *Radio
	Session *device.Session
	Adapter *device.Adapter
}

// SetupSuite initializes the test suite. Called once before all tests in the suite.
func (s *MockRadioSuite) SetupSuite() {
	s.Logger = NewTestLogger()
	s.TestTimeout = 5 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds the radio and opens a session on it. Called before each test method.
func (s *MockRadioSuite) SetupTest() {
	if s.RadioBuilder == nil {
		s.RadioBuilder = createDefaultRadioBuilder()
	}
	s.Radio = s.RadioBuilder.Build()

	opts := s.Options
	if opts.Logger == nil {
		opts.Logger = s.Logger
	}
	s.Session = device.NewSessionWithBackend(s.Radio.Backend, opts)

	adapter, err := s.Session.DefaultAdapter(context.Background())
	s.Require().NoError(err, "MUST open the default adapter of the mocked radio")
	s.Adapter = adapter

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest closes the session and resets the configuration. Called after each test.
func (s *MockRadioSuite) TearDownTest() {
	if s.Session != nil {
		s.Require().NoError(s.Session.Close(), "MUST close the session cleanly")
	}
	s.Session = nil
	s.Adapter = nil
	s.Radio = nil
	s.RadioBuilder = nil
	s.Options = device.Options{}
}

// WithRadio returns the radio builder for fluent configuration. Use it in SetupTest before
// calling the parent SetupTest.
func (s *MockRadioSuite) WithRadio() *RadioBuilder {
	if s.RadioBuilder == nil {
		s.RadioBuilder = NewRadioBuilder()
	}
	return s.RadioBuilder
}

// Context returns a context bounded by TestTimeout and cancelled at test end.
func (s *MockRadioSuite) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

// OpenDevice opens the device at address and fails the test on error.
func (s *MockRadioSuite) OpenDevice(address string) *device.Device {
	d, err := s.Adapter.OpenDevice(address)
	s.Require().NoError(err, "MUST open device %s", address)
	return d
}

// Characteristic navigates to service/char on the device at address.
func (s *MockRadioSuite) Characteristic(address, service, char string) *device.Characteristic {
	ctx := s.Context()
	d := s.OpenDevice(address)
	svc, err := d.Service(ctx, device.MustParseUUID(service))
	s.Require().NoError(err, "MUST find service %s", service)
	c, err := svc.Characteristic(ctx, device.MustParseUUID(char))
	s.Require().NoError(err, "MUST find characteristic %s", char)
	return c
}

// createDefaultRadioBuilder creates a powered radio with one connected peripheral exposing the
// Battery Service (180F) with Battery Level (2A19) at 50%.
func createDefaultRadioBuilder() *RadioBuilder {
	return NewRadioBuilder().
		WithPeripheral(NewPeripheralDeviceBuilder(DefaultPeripheralAddress).
			FromJSON(`
			{
				"name": "Battery",
				"connected": true,
				"services": [
					{
						"uuid": "180F",
						"characteristics": [
							{ "uuid": "2A19", "properties": "read,notify", "value": [50],
							  "descriptors": [ { "uuid": "2902", "value": [0, 0] } ] }
						]
					}
				]
			}`))
}

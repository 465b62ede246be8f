package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/config"
	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		asHex    bool
		expected []byte
	}{
		{name: "simple hex", input: "0102", asHex: true, expected: []byte{0x01, 0x02}},
		{name: "hex with spaces", input: "01 02 03", asHex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with colons", input: "01:02:03", asHex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with 0x prefix", input: "0x01 0x02", asHex: true, expected: []byte{0x01, 0x02}},
		{name: "mixed separators", input: "0x01:02-03 04", asHex: true, expected: []byte{0x01, 0x02, 0x03, 0x04}},
		{name: "upper case", input: "FF0A", asHex: true, expected: []byte{0xff, 0x0a}},
		{name: "literal", input: "hi", asHex: false, expected: []byte("hi")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValue(tt.input, tt.asHex)
			require.NoError(t, err, "MUST parse valid input")
			assert.Equal(t, tt.expected, got)
		})
	}

	for _, bad := range []string{"ZZZZ", "123"} {
		got, err := parseValue(bad, true)
		assert.Error(t, err, "MUST reject %q", bad)
		assert.Nil(t, got)
	}
}

func TestWriteValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeValue(&buf, []byte{0xde, 0xad}, true))
	require.NoError(t, writeValue(&buf, []byte("ok"), false))
	assert.Equal(t, "dead\nok\n", buf.String())
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "connection lost", err: ErrConnectionLost, contains: "connection to the device was lost"},
		{name: "bluetooth off", err: fmt.Errorf("%w: state 4", device.ErrBluetoothOff), contains: "power the adapter on"},
		{name: "no adapter", err: device.ErrNoAdapter, contains: "bluetoothd"},
		{name: "timeout", err: fmt.Errorf("read: %w", context.DeadlineExceeded), contains: "timed out"},
		{
			name:     "missing characteristic",
			err:      &device.NotFoundError{Resource: "characteristic", UUIDs: []device.UUID{"180f", "2a19"}},
			contains: `characteristic "2a19" not found in service "180f"`,
		},
		{name: "not connected", err: device.NewError(device.NotConnected, "device gone"), contains: "not connected"},
		{name: "not supported", err: device.NewError(device.NotSupported, "no notify"), contains: "not supported"},
		{name: "service changed", err: device.NewError(device.ServiceChanged, "180f"), contains: "changed its services"},
		{
			name:     "backend error",
			err:      device.NewBackendError("bluez", "read 2a19", errors.New("org.bluez.Error.NotPermitted")),
			contains: "bluez backend failed to read 2a19: org.bluez.Error.NotPermitted",
		},
		{name: "plain", err: errors.New("boom"), contains: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = logrus.WarnLevel

	tests := []struct {
		name     string
		opts     globalOptions
		expected logrus.Level
	}{
		{name: "silent by default", opts: globalOptions{}, expected: logrus.PanicLevel},
		{name: "verbose", opts: globalOptions{verbose: true}, expected: logrus.DebugLevel},
		{name: "log-level wins over verbose", opts: globalOptions{verbose: true, logLevel: "error"}, expected: logrus.ErrorLevel},
		{name: "config file level", opts: globalOptions{configPath: "gattctl.yaml"}, expected: logrus.WarnLevel},
		{name: "flag wins over config file", opts: globalOptions{configPath: "gattctl.yaml", logLevel: "info"}, expected: logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(cfg, &tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}

	_, err := configureLogger(cfg, &globalOptions{logLevel: "loud"})
	assert.ErrorContains(t, err, "invalid log level")
	assert.Equal(t, logrus.WarnLevel, cfg.LogLevel, "configureLogger MUST NOT modify the config")
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/gattkit/pkg/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns library errors into a one-line message with a hint where one helps.
func FormatUserError(err error) string {
	var nf *device.NotFoundError
	var be *device.BackendError

	switch {
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; power the adapter on and retry"
	case errors.Is(err, device.ErrNoAdapter):
		return fmt.Sprintf("%v; check that a Bluetooth adapter is present (and bluetoothd is running on Linux)", err)
	case errors.Is(err, device.ErrUnknownBackend):
		return fmt.Sprintf("%v; available backends: %v", err, device.Backends())
	case errors.Is(err, device.ErrInvalidDeviceID):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		return "operation timed out; the device may be out of range"
	case errors.As(err, &nf):
		return nf.Error()
	case errors.Is(err, device.ErrNotConnected):
		return fmt.Sprintf("device is not connected (%v)", err)
	case errors.Is(err, device.ErrNotSupported):
		return fmt.Sprintf("operation not supported by the device: %v", err)
	case errors.Is(err, device.ErrServiceChanged):
		return "the device changed its services; run the command again"
	case errors.Is(err, device.ErrNotReady):
		return fmt.Sprintf("value not available yet: %v", err)
	case errors.As(err, &be):
		if be.Op == "" {
			return fmt.Sprintf("%s backend error: %v", be.Backend, be.Err)
		}
		return fmt.Sprintf("%s backend failed to %s: %v", be.Backend, be.Op, be.Err)
	}
	return err.Error()
}

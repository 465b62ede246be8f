package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/gattkit/pkg/device"
)

const backendName = "goble"

// NormalizeError maps known go-ble error strings onto the device error taxonomy.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Unknown failures are wrapped in a *device.BackendError with op as context.
func NormalizeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "device not connected"),
		device.ContainsIgnoreCase(msg, "disconnected"),
		device.ContainsIgnoreCase(msg, "connection is not initialized"):
		return device.WrapError(device.NotConnected, err, "%s", op)
	case device.ContainsIgnoreCase(msg, "cccd not found"),
		device.ContainsIgnoreCase(msg, "not implemented"),
		device.ContainsIgnoreCase(msg, "not supported"):
		return device.WrapError(device.NotSupported, err, "%s", op)
	}
	return device.NewBackendError(backendName, op, err)
}

// isAlreadyConnected matches the go-ble dial failure for a peer that is already linked.
func isAlreadyConnected(err error) bool {
	return err != nil && device.ContainsIgnoreCase(err.Error(), "already connected")
}

// isBluetoothOff reports whether a normalized error means the radio is powered down.
func isBluetoothOff(err error) bool {
	return errors.Is(err, device.ErrBluetoothOff)
}

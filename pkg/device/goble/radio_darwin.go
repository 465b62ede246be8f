//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/srg/gattkit/pkg/device"
)

// CoreBluetooth exposes a single central and no adapter names.
const defaultAdapterID = "default"

func newNativeDevice(opts device.BackendOptions) (ble.Device, error) {
	if opts.AdapterName != "" && opts.AdapterName != defaultAdapterID {
		opts.Logger.WithField("adapter", opts.AdapterName).Warn("Adapter selection is not supported on macOS, using the default central")
	}
	return darwin.NewDevice()
}

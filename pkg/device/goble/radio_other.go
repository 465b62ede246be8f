//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/gattkit/pkg/device"
)

const defaultAdapterID = "default"

func newNativeDevice(device.BackendOptions) (ble.Device, error) {
	return nil, device.ErrNoAdapter
}

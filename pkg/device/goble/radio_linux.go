//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/srg/gattkit/pkg/device"
	"golang.org/x/sys/unix"
)

const defaultAdapterID = "hci0"

func newNativeDevice(opts device.BackendOptions) (ble.Device, error) {
	name := opts.AdapterName
	if name == "" {
		name = defaultAdapterID
	}
	id, err := strconv.Atoi(strings.TrimPrefix(name, "hci"))
	if err != nil || !strings.HasPrefix(name, "hci") {
		return nil, fmt.Errorf("%w: adapter name %q, expected hciN", device.ErrInvalidArgument, name)
	}

	// Raw HCI sockets need root or CAP_NET_ADMIN; the open fails with EPERM otherwise.
	if unix.Geteuid() != 0 {
		opts.Logger.WithField("adapter", name).Debug("Not running as root, raw HCI access may be denied")
	}
	return linux.NewDevice(ble.OptDeviceID(id))
}

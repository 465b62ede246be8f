package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/gattkit/pkg/device"
)

// Radio is the part of ble.Device the backend drives. Tests replace it through RadioFactory.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, addr ble.Addr) (GATTClient, error)
	Stop() error
}

// GATTClient is the part of ble.Client the backend drives.
type GATTClient interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// disconnectNotifier is implemented by clients that report link loss (CoreBluetooth and HCI
// clients of the go-ble fork).
type disconnectNotifier interface {
	Disconnected() <-chan struct{}
}

// RadioFactory opens the platform radio (can be overridden in tests).
//
//nolint:gochecknoglobals // swapped by tests
var RadioFactory = func(opts device.BackendOptions) (Radio, error) {
	dev, err := newNativeDevice(opts)
	if err != nil {
		return nil, err
	}
	return &bleRadio{dev: dev}, nil
}

// bleRadio adapts ble.Device, whose Dial returns the wider ble.Client.
type bleRadio struct {
	dev ble.Device
}

func (r *bleRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return r.dev.Scan(ctx, allowDup, h)
}

func (r *bleRadio) Dial(ctx context.Context, addr ble.Addr) (GATTClient, error) {
	client, err := r.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *bleRadio) Stop() error {
	return r.dev.Stop()
}

// blocking runs a go-ble call that has no context support and abandons it when ctx ends.
// The call keeps running in the background; go-ble has no way to cancel it.
func blocking[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func blockingErr(ctx context.Context, fn func() error) error {
	_, err := blocking(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

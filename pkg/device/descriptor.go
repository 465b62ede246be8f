package device

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Descriptor is one GATT descriptor. It follows the Characteristic caching rules.
type Descriptor struct {
	characteristic *Characteristic
	uuid           UUID
	handle         uint16
	logger         *logrus.Logger

	mu      sync.Mutex
	backend DescriptorBackend
	cache   valueCache
}

func newDescriptor(c *Characteristic, db DescriptorBackend) *Descriptor {
	return &Descriptor{
		characteristic: c,
		backend:        db,
		uuid:           db.UUID(),
		handle:         db.Handle(),
		logger:         c.logger,
	}
}

func (d *Descriptor) UUID() UUID                      { return d.uuid }
func (d *Descriptor) Handle() uint16                  { return d.handle }
func (d *Descriptor) Characteristic() *Characteristic { return d.characteristic }
func (d *Descriptor) String() string                  { return string(d.uuid) }

func (d *Descriptor) backendRef() DescriptorBackend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend
}

func (d *Descriptor) rebind(db DescriptorBackend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backend = db
}

// Value returns the last value read, or NotReady.
func (d *Descriptor) Value() ([]byte, error) {
	v, ok := d.cache.get()
	if !ok {
		return nil, NewError(NotReady, "descriptor %s has not been read", d.uuid)
	}
	return v, nil
}

func (d *Descriptor) IsStale() bool { return d.cache.isStale() }

// Read fetches the value from the peer and refreshes the cache.
func (d *Descriptor) Read(ctx context.Context) ([]byte, error) {
	svc := d.characteristic.service
	db := d.backendRef()

	var data []byte
	err := svc.device.guard(ctx, svc, "read descriptor "+string(d.uuid), func(gctx context.Context) error {
		var err error
		data, err = db.Read(gctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.cache.set(data)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write sends data to the peer. The cache is left untouched.
func (d *Descriptor) Write(ctx context.Context, data []byte) error {
	svc := d.characteristic.service
	db := d.backendRef()
	return svc.device.guard(ctx, svc, "write descriptor "+string(d.uuid), func(gctx context.Context) error {
		return db.Write(gctx, data)
	})
}

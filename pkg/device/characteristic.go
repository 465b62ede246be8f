package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Characteristic is one GATT characteristic. Its cached value is shared by Read and
// notification delivery; writes never touch it.
type Characteristic struct {
	service *Service
	uuid    UUID
	handle  uint16
	logger  *logrus.Logger
	opts    Options

	mu      sync.Mutex
	backend CharacteristicBackend
	props   Properties

	cache  valueCache
	notify notifier

	descMu         sync.Mutex
	descriptors    []*Descriptor
	descDiscovered bool
}

func newCharacteristic(s *Service, cb CharacteristicBackend) *Characteristic {
	return &Characteristic{
		service: s,
		backend: cb,
		uuid:    cb.UUID(),
		handle:  cb.Handle(),
		props:   cb.Properties(),
		logger:  s.logger,
		opts:    s.device.adapter.opts,
	}
}

func (c *Characteristic) UUID() UUID        { return c.uuid }
func (c *Characteristic) Handle() uint16    { return c.handle }
func (c *Characteristic) Service() *Service { return c.service }
func (c *Characteristic) String() string    { return string(c.uuid) }

func (c *Characteristic) Properties() Properties {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props
}

func (c *Characteristic) backendRef() CharacteristicBackend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

func (c *Characteristic) rebind(cb CharacteristicBackend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = cb
	c.props = cb.Properties()
}

// Value returns the last value obtained by Read or a notification. Before either it fails
// with NotReady; the value is never fabricated.
func (c *Characteristic) Value() ([]byte, error) {
	v, ok := c.cache.get()
	if !ok {
		return nil, NewError(NotReady, "characteristic %s has not been read", c.uuid)
	}
	return v, nil
}

// IsStale reports whether the cached value predates a disconnection or service change.
func (c *Characteristic) IsStale() bool { return c.cache.isStale() }

// LastUpdated is the time the cached value was last refreshed, zero if never.
func (c *Characteristic) LastUpdated() time.Time { return c.cache.lastUpdate() }

// Read fetches the value from the peer and refreshes the cache.
func (c *Characteristic) Read(ctx context.Context) ([]byte, error) {
	if !c.Properties().Has(PropRead) {
		return nil, NewError(NotSupported, "characteristic %s is not readable (%s)", c.uuid, c.Properties())
	}
	cb := c.backendRef()

	var data []byte
	err := c.service.device.guard(ctx, c.service, "read "+string(c.uuid), func(gctx context.Context) error {
		var err error
		data, err = cb.Read(gctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.cache.set(data)

	c.logger.WithFields(logrus.Fields{
		"device":         c.service.device.id,
		"characteristic": c.uuid,
		"bytes":          len(data),
	}).Debug("Characteristic read")
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write sends data without response when the characteristic allows it, and with response
// otherwise.
func (c *Characteristic) Write(ctx context.Context, data []byte) error {
	props := c.Properties()
	switch {
	case props.Has(PropWriteWithoutResponse):
		return c.write(ctx, data, false)
	case props.Has(PropWrite):
		return c.write(ctx, data, true)
	default:
		return NewError(NotSupported, "characteristic %s is not writable (%s)", c.uuid, props)
	}
}

// WriteWithResponse sends data and waits for the peer acknowledgement.
func (c *Characteristic) WriteWithResponse(ctx context.Context, data []byte) error {
	if !c.Properties().Has(PropWrite) {
		return NewError(NotSupported, "characteristic %s does not support write with response (%s)", c.uuid, c.Properties())
	}
	return c.write(ctx, data, true)
}

func (c *Characteristic) write(ctx context.Context, data []byte, withResponse bool) error {
	cb := c.backendRef()
	err := c.service.device.guard(ctx, c.service, "write "+string(c.uuid), func(gctx context.Context) error {
		return cb.Write(gctx, data, withResponse)
	})
	if err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"device":         c.service.device.id,
		"characteristic": c.uuid,
		"bytes":          len(data),
		"with_response":  withResponse,
	}).Debug("Characteristic written")
	return nil
}

// IsNotifying reads the peer-side CCCD state. The peer may have cleared it on its own, so
// this can disagree with NotifyState.
func (c *Characteristic) IsNotifying(ctx context.Context) (bool, error) {
	if !c.Properties().CanNotify() {
		return false, nil
	}
	cb := c.backendRef()

	var on bool
	err := c.service.device.guard(ctx, c.service, "read CCCD of "+string(c.uuid), func(gctx context.Context) error {
		var err error
		on, err = cb.IsNotifying(gctx)
		return err
	})
	return on, err
}

// DiscoverDescriptors enumerates descriptors afresh.
func (c *Characteristic) DiscoverDescriptors(ctx context.Context) ([]*Descriptor, error) {
	cb := c.backendRef()

	var found []DescriptorBackend
	err := c.service.device.guard(ctx, c.service, "discover descriptors", func(gctx context.Context) error {
		var err error
		found, err = cb.DiscoverDescriptors(gctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.descMu.Lock()
	defer c.descMu.Unlock()

	previous := make(map[uint16]*Descriptor, len(c.descriptors))
	for _, d := range c.descriptors {
		previous[d.handle] = d
	}
	descs := make([]*Descriptor, 0, len(found))
	for _, db := range found {
		if d, ok := previous[db.Handle()]; ok && d.uuid == db.UUID() {
			d.rebind(db)
			descs = append(descs, d)
			continue
		}
		descs = append(descs, newDescriptor(c, db))
	}
	sort.SliceStable(descs, func(i, j int) bool { return descs[i].handle < descs[j].handle })

	c.descriptors = descs
	c.descDiscovered = true
	return append([]*Descriptor(nil), descs...), nil
}

// Descriptors returns cached descriptors, discovering them on first use.
func (c *Characteristic) Descriptors(ctx context.Context) ([]*Descriptor, error) {
	if !c.service.IsValid() {
		return nil, NewError(ServiceChanged, "service %s on %s was invalidated", c.service.uuid, c.service.device.id)
	}
	c.descMu.Lock()
	if c.descDiscovered {
		out := append([]*Descriptor(nil), c.descriptors...)
		c.descMu.Unlock()
		return out, nil
	}
	c.descMu.Unlock()
	return c.DiscoverDescriptors(ctx)
}

// Descriptor returns the first descriptor with the given UUID.
func (c *Characteristic) Descriptor(ctx context.Context, uuid UUID) (*Descriptor, error) {
	descs, err := c.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range descs {
		if d.uuid == uuid {
			return d, nil
		}
	}
	return nil, &NotFoundError{Resource: "descriptor", UUIDs: []UUID{c.uuid, uuid}}
}

func (c *Characteristic) markStale() {
	c.cache.markStale()
	c.descMu.Lock()
	descs := append([]*Descriptor(nil), c.descriptors...)
	c.descMu.Unlock()
	for _, d := range descs {
		d.cache.markStale()
	}
}

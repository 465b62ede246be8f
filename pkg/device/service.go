package device

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Service is one GATT service instance of a Device. UUIDs are not unique per device; the
// start handle identifies the instance.
type Service struct {
	device  *Device
	uuid    UUID
	handle  uint16
	primary bool
	logger  *logrus.Logger

	invalid atomic.Bool

	mu         sync.Mutex
	backend    ServiceBackend
	chars      []*Characteristic
	discovered bool
}

func newService(d *Device, sb ServiceBackend) *Service {
	return &Service{
		device:  d,
		backend: sb,
		uuid:    sb.UUID(),
		handle:  sb.Handle(),
		primary: sb.IsPrimary(),
		logger:  d.logger,
	}
}

func (s *Service) UUID() UUID      { return s.uuid }
func (s *Service) Handle() uint16  { return s.handle }
func (s *Service) IsPrimary() bool { return s.primary }
func (s *Service) Device() *Device { return s.device }
func (s *Service) String() string  { return string(s.uuid) }

// IsValid reports false once the peer announced a change covering this service. An
// invalid service and everything below it fail with ServiceChanged.
func (s *Service) IsValid() bool { return !s.invalid.Load() }

// DiscoverCharacteristics enumerates characteristics afresh, keeping handles of those still
// present.
func (s *Service) DiscoverCharacteristics(ctx context.Context) ([]*Characteristic, error) {
	s.mu.Lock()
	sb := s.backend
	s.mu.Unlock()

	var found []CharacteristicBackend
	err := s.device.guard(ctx, s, "discover characteristics", func(gctx context.Context) error {
		var err error
		found, err = sb.DiscoverCharacteristics(gctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := make(map[uint16]*Characteristic, len(s.chars))
	for _, c := range s.chars {
		previous[c.handle] = c
	}
	chars := make([]*Characteristic, 0, len(found))
	for _, cb := range found {
		if c, ok := previous[cb.Handle()]; ok && c.uuid == cb.UUID() {
			c.rebind(cb)
			chars = append(chars, c)
			continue
		}
		chars = append(chars, newCharacteristic(s, cb))
	}
	sort.SliceStable(chars, func(i, j int) bool { return chars[i].handle < chars[j].handle })

	s.chars = chars
	s.discovered = true

	s.logger.WithFields(logrus.Fields{
		"device":          s.device.id,
		"service":         s.uuid,
		"characteristics": len(chars),
	}).Debug("Characteristics discovered")
	return append([]*Characteristic(nil), chars...), nil
}

// Characteristics returns cached characteristics, discovering them on first use.
func (s *Service) Characteristics(ctx context.Context) ([]*Characteristic, error) {
	if !s.IsValid() {
		return nil, NewError(ServiceChanged, "service %s on %s was invalidated", s.uuid, s.device.id)
	}
	s.mu.Lock()
	if s.discovered {
		out := append([]*Characteristic(nil), s.chars...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()
	return s.DiscoverCharacteristics(ctx)
}

// Characteristic returns the first characteristic with the given UUID.
func (s *Service) Characteristic(ctx context.Context, uuid UUID) (*Characteristic, error) {
	chars, err := s.Characteristics(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range chars {
		if c.uuid == uuid {
			return c, nil
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", UUIDs: []UUID{s.uuid, uuid}}
}

// rebind points a surviving service at the backend object of a fresh discovery.
func (s *Service) rebind(sb ServiceBackend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = sb
	s.primary = sb.IsPrimary()
}

// affectedBy reports whether a service-changed range listing handles covers s. An empty
// list covers every service.
func (s *Service) affectedBy(handles []uint16) bool {
	if len(handles) == 0 {
		return true
	}
	for _, h := range handles {
		if h == s.handle {
			return true
		}
	}
	return false
}

func (s *Service) invalidate() {
	if !s.invalid.CompareAndSwap(false, true) {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"device":  s.device.id,
		"service": s.uuid,
		"handle":  s.handle,
	}).Debug("Service invalidated")
	s.markStale()
}

func (s *Service) markStale() {
	s.mu.Lock()
	chars := append([]*Characteristic(nil), s.chars...)
	s.mu.Unlock()
	for _, c := range chars {
		c.markStale()
	}
}

package device

import (
	"sync"
	"time"
)

// valueCache holds the last value read from, written to or notified by an attribute.
// Values are copied in and out, so a reader never observes a half-updated slice.
type valueCache struct {
	mu        sync.RWMutex
	value     []byte
	populated bool
	stale     bool
	updatedAt time.Time
}

func (c *valueCache) set(v []byte) {
	cp := make([]byte, len(v))
	copy(cp, v)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = cp
	c.populated = true
	c.stale = false
	c.updatedAt = time.Now()
}

// get returns a copy of the cached value, or false if nothing was ever stored.
func (c *valueCache) get() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return nil, false
	}
	cp := make([]byte, len(c.value))
	copy(cp, c.value)
	return cp, true
}

// markStale flags the value as possibly out of date (connection lost, services changed)
// without discarding it.
func (c *valueCache) markStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.populated {
		c.stale = true
	}
}

func (c *valueCache) isStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale
}

func (c *valueCache) lastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

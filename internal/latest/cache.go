// Package latest holds the most recent meter reading for consumers that take
// it exactly once.
package latest

import (
	"sync/atomic"

	"github.com/septivank/sml-meter-logger/internal/reading"
)

// Cache is a single-slot exchange between the ingestion loop and readers.
// Take empties the slot, so a reading is handed out at most once. The zero
// value is an empty cache and all methods are safe for concurrent use.
type Cache struct {
	slot atomic.Pointer[reading.Reading]
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Publish replaces the cached reading with a copy of r.
func (c *Cache) Publish(r reading.Reading) {
	clone := r.Clone()
	c.slot.Store(&clone)
}

// Take returns the cached reading and empties the slot. It reports false when
// the slot was empty.
func (c *Cache) Take() (reading.Reading, bool) {
	r := c.slot.Swap(nil)
	if r == nil {
		return reading.Reading{}, false
	}
	return *r, true
}

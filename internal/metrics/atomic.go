package metrics

import (
	"math"
	"sync/atomic"
)

// Counter is an unsigned counter with a single writer and any number of readers.
type Counter struct {
	value atomic.Uint64
}

// Add adds delta and returns the new value.
func (c *Counter) Add(delta uint64) uint64 {
	return c.value.Add(delta)
}

// Load returns the current value.
func (c *Counter) Load() uint64 {
	return c.value.Load()
}

// Store sets the value.
func (c *Counter) Store(val uint64) {
	c.value.Store(val)
}

// Float is an atomically readable float64.
type Float struct {
	bits atomic.Uint64
}

// Load returns the current value.
func (f *Float) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Store sets the value.
func (f *Float) Store(val float64) {
	f.bits.Store(math.Float64bits(val))
}

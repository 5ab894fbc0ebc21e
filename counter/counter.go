// Package counter implements small 64-bit counters for per-session and
// per-supervisor statistics (messages sent/received, KEEPALIVEs emitted,
// back-off cycles). Only ever touched from the supervisor thread, so no
// atomics are needed.
package counter

import (
	"fmt"
)

// Counter is a 64 bit counter.
type Counter struct {
	count uint64
}

// New creates a new zeroed Counter.
func New() *Counter {
	return new(Counter)
}

// Reset zeroes the counter.
func (c *Counter) Reset() {
	c.count = 0
}

// Increment adds one to the counter.
func (c *Counter) Increment() {
	c.count++
}

// Add adds n to the counter.
func (c *Counter) Add(n uint64) {
	c.count += n
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.count
}

// String implements fmt.Stringer.
func (c *Counter) String() string {
	return fmt.Sprintf("%d", c.count)
}

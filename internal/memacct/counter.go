package memacct

import (
	"math"
	"sync"
)

// Counter is a monotonically-accountable byte counter with an optional
// ceiling. A zero Limit means unrestricted (a plain
// MemoryUsageLog); a nonzero Limit makes it the restricted variant
// (MemoryUsageLogRestricted), rejecting any Add that would push Current
// above Limit. Independently lockable from every other accountant in the
// system, per the fixed lock ordering socket -> mode -> accountant ->
// packet store.
type Counter struct {
	mu      sync.Mutex
	current uint64
	limit   uint64
}

// NewCounter creates a Counter with the given ceiling. A limit of 0 means
// unrestricted.
func NewCounter(limit uint64) *Counter {
	return &Counter{limit: limit}
}

// Current returns the bytes currently accounted for.
func (c *Counter) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Limit returns the ceiling (0 = unrestricted).
func (c *Counter) Limit() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// SetLimit changes the ceiling at runtime (e.g. from reloaded config).
func (c *Counter) SetLimit(limit uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = limit
}

// Add increases the counter by n. It fails with ErrMemoryLimitExceeded if
// a nonzero Limit would be exceeded, and with ErrIntegerOverflow if the
// addition would wrap uint64. The counter is left unchanged on failure.
func (c *Counter) Add(n uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > math.MaxUint64-c.current {
		return ErrIntegerOverflow
	}
	next := c.current + n
	if c.limit != 0 && next > c.limit {
		return ErrMemoryLimitExceeded
	}
	c.current = next
	return nil
}

// Sub decreases the counter by n. It fails with ErrIntegerOverflow if n
// exceeds the current value (underflow); the counter is left unchanged
// on failure.
func (c *Counter) Sub(n uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.current {
		return ErrIntegerOverflow
	}
	c.current -= n
	return nil
}

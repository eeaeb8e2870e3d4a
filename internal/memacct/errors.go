// Package memacct implements the memory-accounting layer: bounded byte
// counters over outstanding send/receive/queue memory, and a recyclable
// pool of fixed-size packet shells that reduces allocation churn on the
// hot receive path.
package memacct

import "errors"

var (
	// ErrMemoryLimitExceeded is returned when an Add would exceed the
	// counter's ceiling.
	ErrMemoryLimitExceeded = errors.New("memacct: memory limit exceeded")
	// ErrIntegerOverflow is returned on counter overflow/underflow.
	ErrIntegerOverflow = errors.New("memacct: integer overflow")
)

// Package wire provides the address and packet-buffer primitives shared by
// every other netcore package: a value-type network address and a
// resizable byte buffer with a read cursor and typed append/read helpers.
package wire

import "errors"

// Sentinel errors for wire-level violations, wrapped with context via
// fmt.Errorf("...: %w", err) at call sites that need more detail.
var (
	// ErrShortRead is returned when a typed read would consume bytes past Used.
	ErrShortRead = errors.New("wire: short read past used length")
	// ErrWouldTruncate is returned by SetMemory when shrinking below Used
	// without the explicit truncate flag.
	ErrWouldTruncate = errors.New("wire: set-memory would truncate used data")
	// ErrCursorOutOfRange is returned by SetCursor for a value outside [0, Used].
	ErrCursorOutOfRange = errors.New("wire: cursor out of range")
	// ErrUsedOutOfRange is returned by SetUsed for a value above Memory.
	ErrUsedOutOfRange = errors.New("wire: used out of range")
	// ErrStringTooLong is returned when a size-prefixed string exceeds the
	// prefix's addressable range.
	ErrStringTooLong = errors.New("wire: string too long for size prefix")
)

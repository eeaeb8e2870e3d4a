// Package completion implements the engine's completion-port worker pool:
// a bounded set of goroutines draining a single shared queue fed by every
// associated socket's blocking read loop. It is the Go realization of the
// runtime's NetInstructionReturnFast / NetworkTrafficListener pair,
// rebuilt around channels and goroutines instead of an OS completion port.
package completion

import "sync/atomic"

// Key identifies the socket (or other associated resource) a Completion
// belongs to. It is an opaque, comparable handle — analogous to binding a
// HANDLE to an IOCP via CreateIoCompletionPort — that a Handler uses to
// look up per-socket state without the engine needing to know what a
// socket is.
type Key uint64

var nextKey uint64

// NewKey returns a fresh, process-unique Key. Keys are never reused,
// so a Completion arriving after its socket has been torn down can
// still be recognized and discarded by a Handler that tracks live keys.
func NewKey() Key {
	return Key(atomic.AddUint64(&nextKey, 1))
}

package memacct

import (
	"sync"

	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// Recycler is a bounded pool of fixed-size packet shells. It exists to
// take allocation off the hot receive path: instead of allocating a new
// wire.Buffer for every inbound datagram, a socket Gets a shell, fills
// it, hands it off to the completion layer, and the consumer Recycles it
// back once done.
//
// Get returns a pooled shell when one is available and the requested
// size does not exceed the pool's shell size; otherwise it allocates
// fresh. Recycle returns a shell to the pool only if its memory size
// matches the pool's shell size and the pool is not already at maxSize;
// otherwise the shell is dropped for the garbage collector.
type Recycler struct {
	mu        sync.Mutex
	shellSize int
	maxSize   int
	free      []*wire.Buffer
}

// NewRecycler creates a Recycler of shells sized shellSize, holding at
// most maxSize idle shells at once.
func NewRecycler(shellSize, maxSize int) *Recycler {
	if shellSize < 0 {
		shellSize = 0
	}
	if maxSize < 0 {
		maxSize = 0
	}
	return &Recycler{shellSize: shellSize, maxSize: maxSize}
}

// ShellSize returns the fixed shell size this pool recycles.
func (r *Recycler) ShellSize() int {
	return r.shellSize
}

// Len returns the number of idle shells currently pooled.
func (r *Recycler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.free)
}

// Get returns a shell able to hold at least size bytes. A pooled shell is
// reused only when size <= ShellSize(); otherwise a fresh Buffer sized to
// exactly size is allocated and never joins the pool on Recycle.
func (r *Recycler) Get(size int) *wire.Buffer {
	if size <= r.shellSize {
		r.mu.Lock()
		n := len(r.free)
		if n > 0 {
			shell := r.free[n-1]
			r.free = r.free[:n-1]
			r.mu.Unlock()
			shell.Reset()
			return shell
		}
		r.mu.Unlock()
		return wire.NewBuffer(r.shellSize)
	}
	return wire.NewBuffer(size)
}

// Recycle returns buf to the pool if its capacity matches ShellSize and
// the pool has room; otherwise buf is left for garbage collection.
func (r *Recycler) Recycle(buf *wire.Buffer) {
	if buf == nil || buf.Memory() != r.shellSize {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.free) >= r.maxSize {
		return
	}
	r.free = append(r.free, buf)
}

// RestrictedRecycler wraps a Recycler with a Counter that charges the
// shell's memory size against a ceiling on Get and releases it on
// Recycle — the combination sometimes called MemoryRecyclePacket bound to
// a MemoryUsageLogRestricted.
type RestrictedRecycler struct {
	pool     *Recycler
	accounts *Counter
}

// NewRestrictedRecycler wraps pool with accounting against accounts.
func NewRestrictedRecycler(pool *Recycler, accounts *Counter) *RestrictedRecycler {
	return &RestrictedRecycler{pool: pool, accounts: accounts}
}

// Get charges the shell's allocated memory size against the counter
// before returning it, so the later Recycle releases exactly what was
// charged. If the ceiling would be exceeded, no shell is allocated and
// the error is returned.
func (r *RestrictedRecycler) Get(size int) (*wire.Buffer, error) {
	charge := size
	if size <= r.pool.ShellSize() {
		charge = r.pool.ShellSize()
	}
	if err := r.accounts.Add(uint64(charge)); err != nil {
		return nil, err
	}
	return r.pool.Get(size), nil
}

// Recycle releases buf's charged memory back to the counter and returns
// the shell to the underlying pool.
func (r *RestrictedRecycler) Recycle(buf *wire.Buffer) {
	if buf == nil {
		return
	}
	_ = r.accounts.Sub(uint64(buf.Memory()))
	r.pool.Recycle(buf)
}

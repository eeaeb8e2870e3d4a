package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// Buffer is an owned, resizable byte buffer with a read cursor: the
// "Packet" primitive of the runtime. It tracks four fields — allocated
// memory size, logical used length, read cursor, and a small Meta header
// — and maintains the invariant Cursor <= Used <= Memory at every stable
// point (i.e. outside of a single method body).
//
// Buffer is guarded by a fine-grained mutex per the concurrency model:
// reads that don't mutate cursor/used/mem take no lock beyond what the
// Go race detector requires for the slice read itself, but every method
// here that touches shared fields takes the lock, since sockets and mode
// objects may share a Buffer across goroutines during send/receive.
type Buffer struct {
	mu   sync.Mutex
	mem  []byte
	used int
	cur  int
	Meta Meta
}

// NewBuffer allocates an empty Buffer with the given memory size.
func NewBuffer(memorySize int) *Buffer {
	if memorySize < 0 {
		memorySize = 0
	}
	return &Buffer{mem: make([]byte, memorySize)}
}

// NewBufferFromBytes copies span into a new Buffer whose memory and used
// size both equal len(span).
func NewBufferFromBytes(span []byte) *Buffer {
	b := &Buffer{mem: make([]byte, len(span)), used: len(span)}
	copy(b.mem, span)
	return b
}

// NewBufferFromString copies s into a new Buffer the same way
// NewBufferFromBytes does.
func NewBufferFromString(s string) *Buffer {
	return NewBufferFromBytes([]byte(s))
}

// Memory returns the allocated capacity.
func (b *Buffer) Memory() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mem)
}

// Used returns the logical length.
func (b *Buffer) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Cursor returns the current read cursor.
func (b *Buffer) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// SetMemory resizes the backing array. Growing preserves all existing
// bytes. Shrinking below Used fails with ErrWouldTruncate unless truncate
// is true, in which case Used (and Cursor, if beyond the new bound) are
// clamped down to the new size.
func (b *Buffer) SetMemory(n int, truncate bool) error {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < b.used {
		if !truncate {
			return ErrWouldTruncate
		}
		b.used = n
		if b.cur > b.used {
			b.cur = b.used
		}
	}

	newMem := make([]byte, n)
	copyLen := min(b.used, len(b.mem))
	copyLen = min(copyLen, n)
	copy(newMem, b.mem[:copyLen])
	b.mem = newMem
	return nil
}

// Reset zeroes Used and Cursor without releasing the backing array,
// readying a shell for reuse by a Recycler. Meta is cleared too.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
	b.cur = 0
	b.Meta = Meta{}
}

// SetUsed sets the logical length. n must be in [0, Memory]; the cursor
// is clamped down if it now exceeds the new used length.
func (b *Buffer) SetUsed(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 || n > len(b.mem) {
		return ErrUsedOutOfRange
	}
	b.used = n
	if b.cur > b.used {
		b.cur = b.used
	}
	return nil
}

// SetCursor sets the read cursor. n must be in [0, Used].
func (b *Buffer) SetCursor(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 || n > b.used {
		return ErrCursorOutOfRange
	}
	b.cur = n
	return nil
}

// ensureCapacityLocked grows mem so that used+extra bytes fit, preserving
// contents. Callers must hold b.mu.
func (b *Buffer) ensureCapacityLocked(extra int) {
	need := b.used + extra
	if need <= len(b.mem) {
		return
	}
	newMem := make([]byte, need)
	copy(newMem, b.mem[:b.used])
	b.mem = newMem
}

// AppendBytes appends span's bytes after Used, growing memory if needed,
// and advances Used by len(span).
func (b *Buffer) AppendBytes(span []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureCapacityLocked(len(span))
	copy(b.mem[b.used:], span)
	b.used += len(span)
}

// AppendUint8 appends a single byte.
func (b *Buffer) AppendUint8(v uint8) {
	b.AppendBytes([]byte{v})
}

// AppendBool appends a single byte: 1 for true, 0 for false.
func (b *Buffer) AppendBool(v bool) {
	if v {
		b.AppendUint8(1)
	} else {
		b.AppendUint8(0)
	}
}

// AppendUint16LE appends a little-endian uint16.
func (b *Buffer) AppendUint16LE(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.AppendBytes(tmp[:])
}

// AppendUint32LE appends a little-endian uint32.
func (b *Buffer) AppendUint32LE(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.AppendBytes(tmp[:])
}

// AppendUint64LE appends a little-endian uint64.
func (b *Buffer) AppendUint64LE(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.AppendBytes(tmp[:])
}

// AppendInt32LE appends a little-endian int32.
func (b *Buffer) AppendInt32LE(v int32) {
	b.AppendUint32LE(uint32(v))
}

// AppendFloat32LE appends an IEEE-754 single-precision float, little-endian.
func (b *Buffer) AppendFloat32LE(v float32) {
	b.AppendUint32LE(math.Float32bits(v))
}

// AppendFloat64LE appends an IEEE-754 double-precision float, little-endian.
func (b *Buffer) AppendFloat64LE(v float64) {
	b.AppendUint64LE(math.Float64bits(v))
}

// AppendString appends the raw bytes of s with no length prefix.
func (b *Buffer) AppendString(s string) {
	b.AppendBytes([]byte(s))
}

// AppendStringPrefixed appends a uint32-LE length prefix followed by the
// string's bytes.
func (b *Buffer) AppendStringPrefixed(s string) error {
	if len(s) > math.MaxUint32 {
		return ErrStringTooLong
	}
	b.AppendUint32LE(uint32(len(s)))
	b.AppendString(s)
	return nil
}

// readLocked reads n bytes starting at the cursor without advancing it on
// failure; on success it advances the cursor by n. Callers hold b.mu.
func (b *Buffer) readLocked(n int) ([]byte, error) {
	if b.cur+n > b.used {
		return nil, ErrShortRead
	}
	out := b.mem[b.cur : b.cur+n]
	b.cur += n
	return out, nil
}

// ReadUint8 reads one byte from the cursor.
func (b *Buffer) ReadUint8() (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, err := b.readLocked(1)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// ReadBool reads one byte and interprets it as a boolean (nonzero = true).
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadUint16LE reads a little-endian uint16 from the cursor.
func (b *Buffer) ReadUint16LE() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, err := b.readLocked(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(out), nil
}

// ReadUint32LE reads a little-endian uint32 from the cursor.
func (b *Buffer) ReadUint32LE() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, err := b.readLocked(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(out), nil
}

// ReadUint64LE reads a little-endian uint64 from the cursor.
func (b *Buffer) ReadUint64LE() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, err := b.readLocked(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(out), nil
}

// ReadInt32LE reads a little-endian int32 from the cursor.
func (b *Buffer) ReadInt32LE() (int32, error) {
	v, err := b.ReadUint32LE()
	return int32(v), err
}

// ReadFloat32LE reads an IEEE-754 single-precision float, little-endian.
func (b *Buffer) ReadFloat32LE() (float32, error) {
	v, err := b.ReadUint32LE()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64LE reads an IEEE-754 double-precision float, little-endian.
func (b *Buffer) ReadFloat64LE() (float64, error) {
	v, err := b.ReadUint64LE()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBytes reads n raw bytes from the cursor. The returned slice aliases
// the Buffer's backing array and is only valid until the next mutating call.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(n)
}

// ReadStringPrefixed reads a uint32-LE length prefix followed by that many
// bytes, returning them as a string.
func (b *Buffer) ReadStringPrefixed() (string, error) {
	n, err := b.ReadUint32LE()
	if err != nil {
		return "", err
	}
	raw, err := b.ReadBytes(int(n))
	if err != nil {
		return "", fmt.Errorf("wire: read prefixed string body: %w", err)
	}
	return string(raw), nil
}

// Erase removes [start, start+length) from the logical content, shifting
// the remaining bytes left. Used decreases by length; Cursor is clamped
// to stay within the new Used.
func (b *Buffer) Erase(start, length int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start < 0 || length < 0 || start+length > b.used {
		return fmt.Errorf("wire: erase(%d,%d) out of range (used=%d)", start, length, b.used)
	}
	if length == 0 {
		return nil
	}
	copy(b.mem[start:], b.mem[start+length:b.used])
	b.used -= length
	if b.cur > b.used {
		b.cur = b.used
	} else if b.cur > start {
		// Cursor sat inside or after the erased range; shift it left by
		// however much of the erased range was before it.
		shift := length
		if b.cur < start+length {
			shift = b.cur - start
		}
		b.cur -= shift
	}
	return nil
}

// Find returns the index of the first occurrence of pattern at or after
// from, searching within [0, Used). Returns -1 if not found.
func (b *Buffer) Find(pattern []byte, from int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if len(pattern) == 0 || from >= b.used {
		return -1
	}
	hay := b.mem[:b.used]
	idx := indexFrom(hay, pattern, from)
	return idx
}

func indexFrom(hay, pattern []byte, from int) int {
	if from > len(hay)-len(pattern) {
		return -1
	}
	for i := from; i <= len(hay)-len(pattern); i++ {
		if matchAt(hay, pattern, i) {
			return i
		}
	}
	return -1
}

func matchAt(hay, pattern []byte, i int) bool {
	for j := range pattern {
		if hay[i+j] != pattern[j] {
			return false
		}
	}
	return true
}

// Bytes returns a zero-copy view of [0, Used) backed by the Buffer's own
// storage. The slice is only valid until the next call that may
// reallocate (SetMemory growing past capacity, AppendBytes, etc.) — callers
// handing it to asynchronous sends must call Snapshot instead.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mem[:b.used]
}

// Snapshot returns a heap copy of [0, Used), safe to retain across
// reallocations of the Buffer (used by send records for asynchronous sends).
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.used)
	copy(out, b.mem[:b.used])
	return out
}

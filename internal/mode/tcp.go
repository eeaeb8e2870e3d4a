package mode

import (
	"encoding/binary"
	"sync"

	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// TCPMode turns a raw byte stream into discrete packets and back. Every
// implementation is a leaf: there is no shared base class, only this
// interface, matching the tagged-variant style the runtime uses for
// mode polymorphism.
type TCPMode interface {
	// DealWithData appends chunk to the mode's partial buffer and
	// extracts zero or more complete packets. The partial buffer always
	// holds strictly less than one more complete packet's worth of
	// bytes once this returns.
	DealWithData(chunk []byte) ([]*wire.Buffer, error)
	// GetSendObject returns the bytes to hand the socket for a send of
	// payload, with whatever framing this mode adds.
	GetSendObject(payload []byte) []byte
	// PartialPercentage reports how full the in-progress packet is, or
	// ErrNotMeaningful if the mode has no such concept.
	PartialPercentage() (float64, error)
	// Reset discards any partial state, e.g. after a client is recycled.
	Reset()
	// MemorySize returns bytes currently held in the partial buffer.
	MemorySize() int
	// MemoryLimit returns the partial buffer's configured ceiling.
	MemoryLimit() int
}

func shellFrom(r *memacct.Recycler, data []byte) *wire.Buffer {
	if r == nil {
		return wire.NewBufferFromBytes(data)
	}
	b := r.Get(len(data))
	b.AppendBytes(data)
	return b
}

// LengthPrefixMode frames each packet as a uint32-LE length followed by
// that many payload bytes.
type LengthPrefixMode struct {
	mu         sync.Mutex
	partial    *wire.Buffer
	maxMemory  int
	autoResize bool
	recycler   *memacct.Recycler
}

// NewLengthPrefixMode creates a length-prefix mode with the given
// partial-buffer ceiling. recycler may be nil.
func NewLengthPrefixMode(maxMemory int, autoResize bool, recycler *memacct.Recycler) *LengthPrefixMode {
	return &LengthPrefixMode{
		partial:    wire.NewBuffer(0),
		maxMemory:  maxMemory,
		autoResize: autoResize,
		recycler:   recycler,
	}
}

func (m *LengthPrefixMode) DealWithData(chunk []byte) ([]*wire.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.autoResize && m.partial.Used()+len(chunk) > m.maxMemory {
		return nil, ErrTcpReceiveBufferTooSmall
	}
	m.partial.AppendBytes(chunk)

	var out []*wire.Buffer
	for {
		raw := m.partial.Bytes()
		if len(raw) < 4 {
			break
		}
		length := binary.LittleEndian.Uint32(raw[:4])
		total := 4 + int(length)
		if len(raw) < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, raw[4:total])
		out = append(out, shellFrom(m.recycler, payload))
		if err := m.partial.Erase(0, total); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (m *LengthPrefixMode) GetSendObject(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func (m *LengthPrefixMode) PartialPercentage() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw := m.partial.Bytes()
	if len(raw) < 4 {
		return 0, nil
	}
	length := binary.LittleEndian.Uint32(raw[:4])
	total := 4 + int(length)
	if total == 0 {
		return 1, nil
	}
	pct := float64(len(raw)) / float64(total)
	if pct > 1 {
		pct = 1
	}
	return pct, nil
}

func (m *LengthPrefixMode) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partial = wire.NewBuffer(0)
}

func (m *LengthPrefixMode) MemorySize() int  { return m.partial.Used() }
func (m *LengthPrefixMode) MemoryLimit() int { return m.maxMemory }

// DelimiterMode frames each packet as the payload followed by a fixed
// postfix byte sequence, not itself included in the delivered packet.
type DelimiterMode struct {
	mu         sync.Mutex
	partial    *wire.Buffer
	postfix    []byte
	maxMemory  int
	autoResize bool
	recycler   *memacct.Recycler
}

// NewDelimiterMode creates a delimiter mode. postfix defaults to CRLF
// if empty.
func NewDelimiterMode(postfix []byte, maxMemory int, autoResize bool, recycler *memacct.Recycler) *DelimiterMode {
	if len(postfix) == 0 {
		postfix = []byte{'\r', '\n'}
	}
	return &DelimiterMode{
		partial:    wire.NewBuffer(0),
		postfix:    postfix,
		maxMemory:  maxMemory,
		autoResize: autoResize,
		recycler:   recycler,
	}
}

func (m *DelimiterMode) DealWithData(chunk []byte) ([]*wire.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.autoResize && m.partial.Used()+len(chunk) > m.maxMemory {
		return nil, ErrTcpReceiveBufferTooSmall
	}
	m.partial.AppendBytes(chunk)

	var out []*wire.Buffer
	for {
		idx := m.partial.Find(m.postfix, 0)
		if idx == -1 {
			break
		}
		raw := m.partial.Bytes()
		payload := make([]byte, idx)
		copy(payload, raw[:idx])
		out = append(out, shellFrom(m.recycler, payload))
		if err := m.partial.Erase(0, idx+len(m.postfix)); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (m *DelimiterMode) GetSendObject(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(m.postfix))
	out = append(out, payload...)
	out = append(out, m.postfix...)
	return out
}

func (m *DelimiterMode) PartialPercentage() (float64, error) {
	return 0, ErrNotMeaningful
}

func (m *DelimiterMode) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partial = wire.NewBuffer(0)
}

func (m *DelimiterMode) MemorySize() int  { return m.partial.Used() }
func (m *DelimiterMode) MemoryLimit() int { return m.maxMemory }

// RawMode applies no framing: every chunk received is one packet, and
// send adds nothing.
type RawMode struct {
	recycler *memacct.Recycler
}

// NewRawMode creates a raw TCP mode. recycler may be nil.
func NewRawMode(recycler *memacct.Recycler) *RawMode {
	return &RawMode{recycler: recycler}
}

func (m *RawMode) DealWithData(chunk []byte) ([]*wire.Buffer, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	return []*wire.Buffer{shellFrom(m.recycler, chunk)}, nil
}

func (m *RawMode) GetSendObject(payload []byte) []byte { return payload }
func (m *RawMode) PartialPercentage() (float64, error) { return 0, ErrNotMeaningful }
func (m *RawMode) Reset()                              {}
func (m *RawMode) MemorySize() int                      { return 0 }
func (m *RawMode) MemoryLimit() int                     { return 0 }

package mode

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// UDPMode turns a datagram into zero or one delivered packets and knows
// how to frame an outbound datagram. Unlike TCPMode there is no stream
// to reassemble — UDP already preserves message boundaries — so the
// job here is filtering, routing, and per-client bookkeeping.
type UDPMode interface {
	// DealWithData processes one inbound datagram from client clientID
	// and returns the delivered packet, or nil if the datagram was
	// dropped (stale, duplicate, decrypt failure).
	DealWithData(clientID uint32, datagram []byte) (*wire.Buffer, error)
	// GetSendObject frames an outbound datagram to clientID.
	GetSendObject(clientID uint32, payload []byte) []byte
	// ResetClient clears a client's slots and counters to their initial
	// values, e.g. when a client-id slot is reused.
	ResetClient(clientID uint32)
	// MemorySize reports bytes currently held for clientID.
	MemorySize(clientID uint32) int
	// MemoryLimit reports the per-client receive-memory ceiling.
	MemoryLimit() int
}

// OperationAddressable is implemented by UDP modes that route on a
// logical operation id in addition to client id. Callers that need the
// operation axis type-assert a UDPMode to this interface rather than
// widening UDPMode itself, since only PerClientPerOperationMode has
// anything to put in that slot.
type OperationAddressable interface {
	// GetSendObjectOp is GetSendObject with an explicit operation id.
	GetSendObjectOp(clientID, opID uint32, payload []byte) []byte
}

// CatchAllMode delivers every datagram unmodified with no filtering;
// ordering and duplication are exactly what the kernel delivered.
type CatchAllMode struct {
	limit int
}

// NewCatchAllMode creates a pass-through UDP mode.
func NewCatchAllMode(memoryLimit int) *CatchAllMode {
	return &CatchAllMode{limit: memoryLimit}
}

func (m *CatchAllMode) DealWithData(_ uint32, datagram []byte) (*wire.Buffer, error) {
	return wire.NewBufferFromBytes(datagram), nil
}
func (m *CatchAllMode) GetSendObject(_ uint32, payload []byte) []byte { return payload }
func (m *CatchAllMode) ResetClient(_ uint32)                         {}
func (m *CatchAllMode) MemorySize(_ uint32) int                      { return 0 }
func (m *CatchAllMode) MemoryLimit() int                             { return m.limit }

// counterHalfRange is half of the uint32 counter space, used to detect
// wraparound in UDP_CATCH_ALL_NO: if the observed counter trails the
// recorded one by more than this, treat it as a reset rather than
// out-of-order.
const counterHalfRange = math.MaxUint32 / 2

// CatchAllNoMode prefixes each datagram with a monotonically-increasing
// uint32-LE counter (0 reserved for handshake/authentication) and drops
// any arrival whose counter is not strictly greater than the last one
// delivered for that client, with wraparound tolerance.
type CatchAllNoMode struct {
	mu      sync.Mutex
	limit   int
	last    map[uint32]uint32
	nextOut map[uint32]uint32
}

// NewCatchAllNoMode creates the ordered, no-loss-filter UDP mode.
func NewCatchAllNoMode(memoryLimit int) *CatchAllNoMode {
	return &CatchAllNoMode{
		limit:   memoryLimit,
		last:    make(map[uint32]uint32),
		nextOut: make(map[uint32]uint32),
	}
}

func (m *CatchAllNoMode) DealWithData(clientID uint32, datagram []byte) (*wire.Buffer, error) {
	if len(datagram) < 4 {
		return nil, ErrUnexpectedHandshakePacket
	}
	counter := binary.LittleEndian.Uint32(datagram[:4])
	if counter == 0 {
		return nil, ErrUnexpectedHandshakePacket
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recorded, seen := m.last[clientID]
	if !seen {
		recorded = 0
	}

	switch {
	case counter > recorded:
		// Normal, strictly-increasing delivery.
	case recorded-counter > counterHalfRange:
		// Observed counter trails the recorded one by more than half
		// the counter's range: treat this as a wraparound reset.
		recorded = 0
	default:
		return nil, nil // out-of-order or duplicate; silently dropped
	}

	m.last[clientID] = counter
	payload := make([]byte, len(datagram)-4)
	copy(payload, datagram[4:])
	return wire.NewBufferFromBytes(payload), nil
}

func (m *CatchAllNoMode) GetSendObject(clientID uint32, payload []byte) []byte {
	m.mu.Lock()
	m.nextOut[clientID]++
	if m.nextOut[clientID] == 0 {
		m.nextOut[clientID] = 1
	}
	counter := m.nextOut[clientID]
	m.mu.Unlock()

	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out, counter)
	copy(out[4:], payload)
	return out
}

func (m *CatchAllNoMode) ResetClient(clientID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, clientID)
	delete(m.nextOut, clientID)
}

func (m *CatchAllNoMode) MemorySize(_ uint32) int { return 0 }
func (m *CatchAllNoMode) MemoryLimit() int         { return m.limit }

// perClientSlot holds the newest packet and accounting state for one
// client in UDP_PER_CLIENT / UDP_PER_CLIENT_PER_OPERATION.
type perClientSlot struct {
	newest *wire.Buffer
}

// PerClientMode holds, per client, only the newest arrived packet: an
// older arrival unconditionally overwrites a not-yet-consumed newer one.
// Optional AES decryption (via decrypt) is applied before framing.
type PerClientMode struct {
	mu       sync.Mutex
	limit    int
	slots    map[uint32]*perClientSlot
	accounts map[uint32]*memacct.Counter
	decrypt  func([]byte) ([]byte, error)
}

// NewPerClientMode creates a per-client UDP mode. decrypt may be nil to
// disable decryption.
func NewPerClientMode(memoryLimit int, decrypt func([]byte) ([]byte, error)) *PerClientMode {
	return &PerClientMode{
		limit:    memoryLimit,
		slots:    make(map[uint32]*perClientSlot),
		accounts: make(map[uint32]*memacct.Counter),
		decrypt:  decrypt,
	}
}

func (m *PerClientMode) counterFor(clientID uint32) *memacct.Counter {
	c, ok := m.accounts[clientID]
	if !ok {
		c = memacct.NewCounter(uint64(m.limit))
		m.accounts[clientID] = c
	}
	return c
}

// DealWithData expects datagram framed as [size-prefix reserved][payload].
// The leading word is reserved on the wire for layout compatibility with
// UDP_PER_CLIENT_PER_OPERATION's framing; per-client delivery is newest-
// wins-unconditionally, so nothing in this mode attaches meaning to it.
func (m *PerClientMode) DealWithData(clientID uint32, datagram []byte) (*wire.Buffer, error) {
	body := datagram
	if m.decrypt != nil {
		decrypted, err := m.decrypt(body)
		if err != nil {
			return nil, ErrUdpDecryptFailed
		}
		body = decrypted
	}
	if len(body) < 4 {
		return nil, ErrUnexpectedHandshakePacket
	}
	payload := body[4:]

	m.mu.Lock()
	defer m.mu.Unlock()

	counter := m.counterFor(clientID)
	slot, ok := m.slots[clientID]
	if ok && slot.newest != nil {
		_ = counter.Sub(uint64(slot.newest.Memory()))
	}
	if err := counter.Add(uint64(len(payload))); err != nil {
		return nil, err
	}

	buf := wire.NewBufferFromBytes(payload)
	m.slots[clientID] = &perClientSlot{newest: buf}
	return buf, nil
}

// GetSendObject frames payload as [size-prefix reserved][payload],
// matching DealWithData's expected layout; clientID addresses the UDP
// datagram (via the caller's destination address) and is not itself
// placed on the wire.
func (m *PerClientMode) GetSendObject(_ uint32, payload []byte) []byte {
	out := make([]byte, 0, 4+len(payload))
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = append(out, payload...)
	return out
}

func (m *PerClientMode) ResetClient(clientID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, clientID)
	delete(m.accounts, clientID)
}

func (m *PerClientMode) MemorySize(clientID uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.counterFor(clientID).Current())
}
func (m *PerClientMode) MemoryLimit() int { return m.limit }

// PerClientPerOperationMode is PerClientMode with an additional
// operation-id axis: the packet store is conceptually [client][op],
// each cell holding at most one packet.
type PerClientPerOperationMode struct {
	mu       sync.Mutex
	limit    int
	numOps   int
	slots    map[uint32]map[uint32]*perClientSlot
	accounts map[uint32]*memacct.Counter
	decrypt  func([]byte) ([]byte, error)
}

// NewPerClientPerOperationMode creates the per-client-per-operation UDP
// mode with numOps logical operation slots per client.
func NewPerClientPerOperationMode(memoryLimit, numOps int, decrypt func([]byte) ([]byte, error)) *PerClientPerOperationMode {
	return &PerClientPerOperationMode{
		limit:    memoryLimit,
		numOps:   numOps,
		slots:    make(map[uint32]map[uint32]*perClientSlot),
		accounts: make(map[uint32]*memacct.Counter),
		decrypt:  decrypt,
	}
}

func (m *PerClientPerOperationMode) counterFor(clientID uint32) *memacct.Counter {
	c, ok := m.accounts[clientID]
	if !ok {
		c = memacct.NewCounter(uint64(m.limit))
		m.accounts[clientID] = c
	}
	return c
}

// DealWithData expects datagram framed as
// [size-prefix operation_id][size-prefix reserved][payload]. The
// reserved word carries no meaning here; see PerClientMode.DealWithData.
func (m *PerClientPerOperationMode) DealWithData(clientID uint32, datagram []byte) (*wire.Buffer, error) {
	body := datagram
	if m.decrypt != nil {
		decrypted, err := m.decrypt(body)
		if err != nil {
			return nil, ErrUdpDecryptFailed
		}
		body = decrypted
	}
	if len(body) < 8 {
		return nil, ErrUnexpectedHandshakePacket
	}
	opID := binary.LittleEndian.Uint32(body[:4])
	payload := body[8:]
	if m.numOps > 0 && int(opID) >= m.numOps {
		return nil, ErrUnexpectedHandshakePacket
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	counter := m.counterFor(clientID)
	ops, ok := m.slots[clientID]
	if !ok {
		ops = make(map[uint32]*perClientSlot)
		m.slots[clientID] = ops
	}
	if prev, ok := ops[opID]; ok && prev.newest != nil {
		_ = counter.Sub(uint64(prev.newest.Memory()))
	}
	if err := counter.Add(uint64(len(payload))); err != nil {
		return nil, err
	}

	buf := wire.NewBufferFromBytes(payload)
	ops[opID] = &perClientSlot{newest: buf}
	return buf, nil
}

func (m *PerClientPerOperationMode) GetSendObject(clientID uint32, payload []byte) []byte {
	return m.GetSendObjectOp(clientID, 0, payload)
}

// GetSendObjectOp is GetSendObject with an explicit operation id,
// satisfying OperationAddressable for callers that need the second
// routing axis this mode adds over PerClientMode. clientID addresses
// the datagram via the caller's destination address and is not itself
// placed on the wire.
func (m *PerClientPerOperationMode) GetSendObjectOp(_, opID uint32, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = binary.LittleEndian.AppendUint32(out, opID)
	out = binary.LittleEndian.AppendUint32(out, 0) // reserved
	out = append(out, payload...)
	return out
}

func (m *PerClientPerOperationMode) ResetClient(clientID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, clientID)
	delete(m.accounts, clientID)
}

func (m *PerClientPerOperationMode) MemorySize(clientID uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.counterFor(clientID).Current())
}
func (m *PerClientPerOperationMode) MemoryLimit() int { return m.limit }

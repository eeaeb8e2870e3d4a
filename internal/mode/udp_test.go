package mode

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datagramWithCounter(counter uint32, payload string) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out, counter)
	copy(out[4:], payload)
	return out
}

func TestCatchAllMode_PassesThroughUnmodified(t *testing.T) {
	m := NewCatchAllMode(0)
	buf, err := m.DealWithData(1, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf.Bytes()))
}

func TestCatchAllNoMode_OrderedFilterWithWraparound(t *testing.T) {
	// Scenario: recorded=1 (after an initial counter=1 delivery), then
	// deliver {500, 499, 501, MaxUint32-1000, 1}. Expect delivery of
	// {500, 501, MaxUint32-1000, 1} (last one resets and is delivered)
	// and the drop of 499.
	m := NewCatchAllNoMode(0)
	const clientID = 7

	_, err := m.DealWithData(clientID, datagramWithCounter(1, "seed"))
	require.NoError(t, err)

	buf, err := m.DealWithData(clientID, datagramWithCounter(500, "a"))
	require.NoError(t, err)
	assert.NotNil(t, buf)

	buf, err = m.DealWithData(clientID, datagramWithCounter(499, "b"))
	require.NoError(t, err)
	assert.Nil(t, buf, "out-of-order counter must be dropped")

	buf, err = m.DealWithData(clientID, datagramWithCounter(501, "c"))
	require.NoError(t, err)
	assert.NotNil(t, buf)

	buf, err = m.DealWithData(clientID, datagramWithCounter(math.MaxUint32-1000, "d"))
	require.NoError(t, err)
	assert.NotNil(t, buf)

	// The datagram after a wraparound reset is delivered exactly once.
	buf, err = m.DealWithData(clientID, datagramWithCounter(1, "e"))
	require.NoError(t, err)
	require.NotNil(t, buf)
	assert.Equal(t, "e", string(buf.Bytes()))
}

func TestCatchAllNoMode_CounterZeroIsHandshakeReserved(t *testing.T) {
	m := NewCatchAllNoMode(0)
	_, err := m.DealWithData(1, datagramWithCounter(0, "auth"))
	assert.ErrorIs(t, err, ErrUnexpectedHandshakePacket)
}

func TestPerClientMode_NewestOverwritesUnconsumed(t *testing.T) {
	m := NewPerClientMode(1024, nil)
	mkDatagram := func(reserved uint32, payload string) []byte {
		out := make([]byte, 4+len(payload))
		binary.LittleEndian.PutUint32(out, reserved)
		copy(out[4:], payload)
		return out
	}

	_, err := m.DealWithData(1, mkDatagram(1, "older"))
	require.NoError(t, err)
	buf, err := m.DealWithData(1, mkDatagram(2, "newer"))
	require.NoError(t, err)
	assert.Equal(t, "newer", string(buf.Bytes()))
	assert.Equal(t, len("newer"), m.MemorySize(1), "stale slot's memory must be released on overwrite")
}

func TestPerClientMode_DecryptFailurePropagates(t *testing.T) {
	boom := func([]byte) ([]byte, error) { return nil, assert.AnError }
	m := NewPerClientMode(1024, boom)
	_, err := m.DealWithData(1, []byte("anything"))
	assert.ErrorIs(t, err, ErrUdpDecryptFailed)
}

func TestPerClientPerOperationMode_SeparateCellsPerOperation(t *testing.T) {
	m := NewPerClientPerOperationMode(1024, 4, nil)
	mkDatagram := func(op, reserved uint32, payload string) []byte {
		out := make([]byte, 8+len(payload))
		binary.LittleEndian.PutUint32(out[:4], op)
		binary.LittleEndian.PutUint32(out[4:8], reserved)
		copy(out[8:], payload)
		return out
	}

	buf0, err := m.DealWithData(1, mkDatagram(0, 1, "op0"))
	require.NoError(t, err)
	buf1, err := m.DealWithData(1, mkDatagram(1, 1, "op1"))
	require.NoError(t, err)

	assert.Equal(t, "op0", string(buf0.Bytes()))
	assert.Equal(t, "op1", string(buf1.Bytes()))
}

func TestPerClientPerOperationMode_RejectsOutOfRangeOperation(t *testing.T) {
	m := NewPerClientPerOperationMode(1024, 2, nil)
	datagram := make([]byte, 8)
	binary.LittleEndian.PutUint32(datagram[:4], 99)
	_, err := m.DealWithData(1, datagram)
	assert.ErrorIs(t, err, ErrUnexpectedHandshakePacket)
}

func TestPerClientMode_SendObjectRoundTripsThroughDealWithData(t *testing.T) {
	m := NewPerClientMode(1024, nil)
	framed := m.GetSendObject(7, []byte("payload"))
	buf, err := m.DealWithData(7, framed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf.Bytes()))
}

func TestPerClientPerOperationMode_SendObjectOpRoundTripsThroughDealWithData(t *testing.T) {
	m := NewPerClientPerOperationMode(1024, 4, nil)
	framed := m.GetSendObjectOp(7, 2, []byte("payload"))
	buf, err := m.DealWithData(7, framed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf.Bytes()))
}

func TestUDPModes_ResetClientClearsState(t *testing.T) {
	m := NewPerClientMode(1024, nil)
	datagram := make([]byte, 4+3)
	copy(datagram[4:], "abc")
	_, err := m.DealWithData(1, datagram)
	require.NoError(t, err)
	assert.NotZero(t, m.MemorySize(1))

	m.ResetClient(1)
	assert.Zero(t, m.MemorySize(1))
}

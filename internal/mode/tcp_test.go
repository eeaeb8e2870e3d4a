package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthPrefixMode_ChunkedStream(t *testing.T) {
	// Scenario: install length-prefix mode with a 1 KiB partial buffer,
	// feed two receive events whose split falls mid-payload.
	m := NewLengthPrefixMode(1024, false, nil)

	buf1 := []byte{0x0B, 0, 0, 0, 'h', 'e', 'l', 'l', 'o', ' ', 'w', 'o'}
	buf2 := []byte{'r', 'l', 'd'}

	out1, err := m.DealWithData(buf1)
	require.NoError(t, err)
	assert.Empty(t, out1)

	out2, err := m.DealWithData(buf2)
	require.NoError(t, err)
	require.Len(t, out2, 1)
	assert.Equal(t, "hello world", string(out2[0].Bytes()))
	assert.Equal(t, 0, m.MemorySize())
}

func TestLengthPrefixMode_MultiplePacketsOneChunk(t *testing.T) {
	m := NewLengthPrefixMode(1024, false, nil)
	send := append(m.GetSendObject([]byte("one")), m.GetSendObject([]byte("two"))...)
	out, err := m.DealWithData(send)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "one", string(out[0].Bytes()))
	assert.Equal(t, "two", string(out[1].Bytes()))
}

func TestLengthPrefixMode_OverflowWithoutAutoResizeFails(t *testing.T) {
	m := NewLengthPrefixMode(4, false, nil)
	_, err := m.DealWithData([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrTcpReceiveBufferTooSmall)
	assert.Equal(t, 0, m.MemorySize(), "partial buffer must be unchanged on rejection")
}

func TestLengthPrefixMode_OverflowWithAutoResizeSucceeds(t *testing.T) {
	m := NewLengthPrefixMode(4, true, nil)
	send := m.GetSendObject([]byte("longer than four bytes"))
	out, err := m.DealWithData(send)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "longer than four bytes", string(out[0].Bytes()))
}

func TestDelimiterMode_FusedPackets(t *testing.T) {
	// Scenario: install delimiter mode with "\r\n", feed one buffer
	// containing three fused frames including an empty one.
	m := NewDelimiterMode([]byte("\r\n"), 1024, false, nil)
	out, err := m.DealWithData([]byte("a\r\nb\r\n\r\n"))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "a", string(out[0].Bytes()))
	assert.Equal(t, "b", string(out[1].Bytes()))
	assert.Equal(t, "", string(out[2].Bytes()))
}

func TestDelimiterMode_PartialPercentageNotMeaningful(t *testing.T) {
	m := NewDelimiterMode(nil, 1024, false, nil)
	_, err := m.PartialPercentage()
	assert.ErrorIs(t, err, ErrNotMeaningful)
}

func TestRawMode_EveryChunkIsOnePacket(t *testing.T) {
	m := NewRawMode(nil)
	out, err := m.DealWithData([]byte("whatever"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "whatever", string(out[0].Bytes()))

	_, err = m.PartialPercentage()
	assert.ErrorIs(t, err, ErrNotMeaningful)
}

func TestLengthPrefixMode_Recycler(t *testing.T) {
	pool := testRecyclerForShellSize(32)
	m := NewLengthPrefixMode(1024, false, pool)
	send := m.GetSendObject([]byte("short"))
	out, err := m.DealWithData(send)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 32, out[0].Memory(), "packet shell should come from the recycler's fixed size")
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Invariant(t *testing.T) {
	b := NewBuffer(4)
	b.AppendBytes([]byte{1, 2, 3})
	require.NoError(t, b.SetCursor(2))
	assert.LessOrEqual(t, b.Cursor(), b.Used())
	assert.LessOrEqual(t, b.Used(), b.Memory())
}

func TestBuffer_AppendReadRoundTrip(t *testing.T) {
	b := NewBuffer(0)
	start := b.Used()
	b.AppendUint32LE(0xDEADBEEF)
	require.NoError(t, b.SetCursor(start))
	got, err := b.ReadUint32LE()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), got)
}

func TestBuffer_AppendReadRoundTrip_AllTypes(t *testing.T) {
	b := NewBuffer(0)
	b.AppendUint8(7)
	b.AppendBool(true)
	b.AppendUint16LE(1234)
	b.AppendUint32LE(999999)
	b.AppendUint64LE(123456789012345)
	b.AppendInt32LE(-42)
	b.AppendFloat32LE(3.5)
	b.AppendFloat64LE(2.71828)
	require.NoError(t, b.AppendStringPrefixed("hello world"))

	require.NoError(t, b.SetCursor(0))

	u8, err := b.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	bl, err := b.ReadBool()
	require.NoError(t, err)
	assert.True(t, bl)

	u16, err := b.ReadUint16LE()
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), u16)

	u32, err := b.ReadUint32LE()
	require.NoError(t, err)
	assert.Equal(t, uint32(999999), u32)

	u64, err := b.ReadUint64LE()
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789012345), u64)

	i32, err := b.ReadInt32LE()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i32)

	f32, err := b.ReadFloat32LE()
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), f32)

	f64, err := b.ReadFloat64LE()
	require.NoError(t, err)
	assert.Equal(t, 2.71828, f64)

	s, err := b.ReadStringPrefixed()
	require.NoError(t, err)
	assert.Equal(t, "hello world", s)
}

func TestBuffer_ShortRead(t *testing.T) {
	b := NewBuffer(0)
	b.AppendUint8(1)
	require.NoError(t, b.SetCursor(0))
	_, err := b.ReadUint32LE()
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestBuffer_SetMemory_ShrinkRefusesWithoutTruncate(t *testing.T) {
	b := NewBuffer(8)
	b.AppendBytes([]byte{1, 2, 3, 4})
	err := b.SetMemory(2, false)
	assert.ErrorIs(t, err, ErrWouldTruncate)
	assert.Equal(t, 8, b.Memory())
	assert.Equal(t, 4, b.Used())
}

func TestBuffer_SetMemory_ShrinkTruncates(t *testing.T) {
	b := NewBuffer(8)
	b.AppendBytes([]byte{1, 2, 3, 4})
	require.NoError(t, b.SetMemory(2, true))
	assert.Equal(t, 2, b.Memory())
	assert.Equal(t, 2, b.Used())
}

func TestBuffer_SetMemory_GrowPreservesContent(t *testing.T) {
	b := NewBufferFromBytes([]byte{1, 2, 3})
	require.NoError(t, b.SetMemory(10, false))
	assert.Equal(t, 10, b.Memory())
	assert.Equal(t, []byte{1, 2, 3}, b.Bytes())
}

func TestBuffer_Erase_ShiftsLeft(t *testing.T) {
	b := NewBufferFromBytes([]byte("hello world"))
	require.NoError(t, b.Erase(0, 6))
	assert.Equal(t, "world", string(b.Bytes()))
}

func TestBuffer_Erase_ClampsCursor(t *testing.T) {
	b := NewBufferFromBytes([]byte("hello world"))
	require.NoError(t, b.SetCursor(11))
	require.NoError(t, b.Erase(0, 6))
	assert.Equal(t, 5, b.Cursor())
}

func TestBuffer_Find(t *testing.T) {
	b := NewBufferFromBytes([]byte("a\r\nb\r\n\r\n"))
	idx := b.Find([]byte("\r\n"), 0)
	assert.Equal(t, 1, idx)
	idx2 := b.Find([]byte("\r\n"), 3)
	assert.Equal(t, 4, idx2)
	assert.Equal(t, -1, b.Find([]byte("zz"), 0))
}

func TestBuffer_Snapshot_IndependentOfReallocation(t *testing.T) {
	b := NewBufferFromBytes([]byte{1, 2, 3})
	snap := b.Snapshot()
	b.AppendBytes([]byte{4, 5, 6})
	assert.Equal(t, []byte{1, 2, 3}, snap)
}

func TestBuffer_SetCursor_OutOfRange(t *testing.T) {
	b := NewBufferFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, b.SetCursor(4), ErrCursorOutOfRange)
	assert.ErrorIs(t, b.SetCursor(-1), ErrCursorOutOfRange)
}

package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

func TestPacketQueue_FIFOOrder(t *testing.T) {
	q := newPacketQueue(0)
	a := wire.NewBuffer(0)
	b := wire.NewBuffer(0)
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))

	assert.Equal(t, 2, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestPacketQueue_Reset(t *testing.T) {
	q := newPacketQueue(0)
	require.NoError(t, q.Push(wire.NewBuffer(0)))
	require.NoError(t, q.Push(wire.NewBuffer(0)))
	q.Reset()
	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestPacketQueue_RejectsPushBeyondMemoryLimit(t *testing.T) {
	q := newPacketQueue(8)
	require.NoError(t, q.Push(wire.NewBufferFromBytes(make([]byte, 8))))
	err := q.Push(wire.NewBufferFromBytes(make([]byte, 1)))
	require.Error(t, err)
	assert.Equal(t, 1, q.Len())
}

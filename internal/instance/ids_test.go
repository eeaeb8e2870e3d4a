package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDAllocator_SmallestUnusedIsTotallyOrdered(t *testing.T) {
	a := newIDAllocator(4)

	id0, ok := a.Acquire()
	require.True(t, ok)
	assert.Equal(t, uint32(0), id0)

	id1, ok := a.Acquire()
	require.True(t, ok)
	assert.Equal(t, uint32(1), id1)

	a.Release(id0)

	id2, ok := a.Acquire()
	require.True(t, ok)
	assert.Equal(t, uint32(0), id2, "released slot must be reused before a higher one")
}

func TestIDAllocator_ExhaustedReturnsFalse(t *testing.T) {
	a := newIDAllocator(2)
	_, ok := a.Acquire()
	require.True(t, ok)
	_, ok = a.Acquire()
	require.True(t, ok)

	_, ok = a.Acquire()
	assert.False(t, ok, "capacity exhausted must report false rather than overrun")
}

func TestIDAllocator_Count(t *testing.T) {
	a := newIDAllocator(4)
	assert.Equal(t, 0, a.Count())
	id, ok := a.Acquire()
	require.True(t, ok)
	assert.Equal(t, 1, a.Count())
	a.Release(id)
	assert.Equal(t, 0, a.Count())
}

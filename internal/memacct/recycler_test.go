package memacct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

func TestRecycler_GetRecycleReusesShell(t *testing.T) {
	r := NewRecycler(64, 4)
	b := r.Get(64)
	b.AppendBytes([]byte("hello"))
	r.Recycle(b)
	require.Equal(t, 1, r.Len())

	reused := r.Get(64)
	assert.Same(t, b, reused)
	assert.Equal(t, 0, reused.Used(), "Reset must clear Used on reuse")
}

func TestRecycler_GetLargerThanShellAllocatesFresh(t *testing.T) {
	r := NewRecycler(16, 4)
	b := r.Get(1024)
	assert.Equal(t, 1024, b.Memory())
	r.Recycle(b)
	// Oversized shells never join the pool (size mismatch).
	assert.Equal(t, 0, r.Len())
}

func TestRecycler_PoolSizeBoundedAfterManyRounds(t *testing.T) {
	r := NewRecycler(32, 3)
	for i := 0; i < 50; i++ {
		b := r.Get(32)
		r.Recycle(b)
		assert.LessOrEqual(t, r.Len(), 3)
	}
}

func TestRecycler_RecycleWrongSizeIsDropped(t *testing.T) {
	r := NewRecycler(32, 3)
	foreign := wire.NewBuffer(8)
	r.Recycle(foreign)
	assert.Equal(t, 0, r.Len())
}

func TestRestrictedRecycler_ChargesAndReleasesCeiling(t *testing.T) {
	counter := NewCounter(64)
	pool := NewRecycler(32, 4)
	rr := NewRestrictedRecycler(pool, counter)

	b1, err := rr.Get(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(32), counter.Current())

	b2, err := rr.Get(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), counter.Current())

	_, err = rr.Get(32)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)

	rr.Recycle(b1)
	assert.Equal(t, uint64(32), counter.Current())
	rr.Recycle(b2)
	assert.Equal(t, uint64(0), counter.Current())
}

func TestRestrictedRecycler_FailedGetLeavesCounterUnchanged(t *testing.T) {
	counter := NewCounter(16)
	pool := NewRecycler(32, 4)
	rr := NewRestrictedRecycler(pool, counter)

	_, err := rr.Get(32)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, uint64(0), counter.Current())
}

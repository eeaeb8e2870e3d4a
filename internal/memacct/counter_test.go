package memacct

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_AddSubRoundTrip(t *testing.T) {
	c := NewCounter(0)
	require.NoError(t, c.Add(100))
	require.NoError(t, c.Sub(40))
	assert.Equal(t, uint64(60), c.Current())
}

func TestCounter_UnrestrictedHasNoCeiling(t *testing.T) {
	c := NewCounter(0)
	require.NoError(t, c.Add(math.MaxUint32))
	assert.Equal(t, uint64(math.MaxUint32), c.Current())
}

func TestCounter_RestrictedRejectsOverLimit(t *testing.T) {
	c := NewCounter(100)
	require.NoError(t, c.Add(60))
	err := c.Add(50)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	// Failed Add must leave the counter unchanged.
	assert.Equal(t, uint64(60), c.Current())
}

func TestCounter_CurrentNeverExceedsLimit(t *testing.T) {
	c := NewCounter(10)
	for i := 0; i < 5; i++ {
		_ = c.Add(3)
		assert.LessOrEqual(t, c.Current(), c.Limit())
	}
}

func TestCounter_SubUnderflow(t *testing.T) {
	c := NewCounter(0)
	require.NoError(t, c.Add(5))
	err := c.Sub(6)
	assert.ErrorIs(t, err, ErrIntegerOverflow)
	assert.Equal(t, uint64(5), c.Current())
}

func TestCounter_AddOverflow(t *testing.T) {
	c := NewCounter(0)
	require.NoError(t, c.Add(math.MaxUint64))
	err := c.Add(1)
	assert.ErrorIs(t, err, ErrIntegerOverflow)
	assert.Equal(t, uint64(math.MaxUint64), c.Current())
}

func TestCounter_SetLimit(t *testing.T) {
	c := NewCounter(10)
	c.SetLimit(1000)
	assert.Equal(t, uint64(1000), c.Limit())
	require.NoError(t, c.Add(500))
}

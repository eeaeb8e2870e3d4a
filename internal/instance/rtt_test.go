package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTSampler_LastAndAverage(t *testing.T) {
	s := NewRTTSampler()
	assert.Zero(t, s.Last())
	assert.Zero(t, s.Average())

	s.Record(100 * time.Millisecond)
	s.Record(200 * time.Millisecond)

	assert.Equal(t, 200*time.Millisecond, s.Last(), "Last tracks only the most recent sample")
	assert.Equal(t, 150*time.Millisecond, s.Average())
}

func TestRTTSampler_NegativeSampleIgnored(t *testing.T) {
	s := NewRTTSampler()
	s.Record(-1 * time.Millisecond)
	assert.Zero(t, s.Last())
	assert.Zero(t, s.Average())
}

func TestPingSender_StopsOnClose(t *testing.T) {
	stop := make(chan struct{})
	calls := make(chan struct{}, 16)
	go pingSender(stop, 5*time.Millisecond, func() {
		select {
		case calls <- struct{}{}:
		default:
		}
	})

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("pingSender never invoked send")
	}
	close(stop)
}

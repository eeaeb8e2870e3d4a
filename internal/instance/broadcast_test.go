package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-pryor/MikeNet-sub001/internal/completion"
)

func TestBroadcast_SendUDPToDeliversToPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profile := testProfile()

	receiver := NewBroadcast(profile, 5, discardLogger())
	require.NoError(t, receiver.Run(ctx, "127.0.0.1:0", "127.0.0.1:0", true))
	defer receiver.Close(context.Background())

	sender := NewBroadcast(profile, 5, discardLogger())
	require.NoError(t, sender.Run(ctx, "127.0.0.1:0", "127.0.0.1:0", false))
	defer sender.Close(context.Background())

	require.NoError(t, sender.SendUDPTo(receiver.conn.LocalAddr().String(), []byte("broadcast payload")))

	require.Eventually(t, func() bool {
		_, ok := receiver.RecvUDP()
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(1), sender.Stats().UDPPacketsSent)
}

func TestBroadcast_RetryCounterTurnsFatalAfterMaxFailures(t *testing.T) {
	b := NewBroadcast(testProfile(), 2, discardLogger())
	failure := completion.Completion{Err: errors.New("boom")}
	b.handle(context.Background(), failure)
	assert.False(t, b.Fatal())
	b.handle(context.Background(), failure)
	assert.False(t, b.Fatal())
	b.handle(context.Background(), failure)
	assert.True(t, b.Fatal(), "fatal must trip once retries exceed maxRetries")
}

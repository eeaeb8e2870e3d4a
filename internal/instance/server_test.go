package instance

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-pryor/MikeNet-sub001/internal/config"
)

func testProfile() config.InstanceProfile {
	return config.InstanceProfile{
		RecvBufferSizeTCP:           64 * 1024,
		RecvBufferSizeUDP:           65507,
		UDPEnabled:                  true,
		HandshakeEnabled:            true,
		ModeTCP:                     config.TCPModeLengthPrefix,
		ModeUDP:                     config.UDPModeCatchAllNo,
		PostfixTCP:                  "\r\n",
		SendTimeoutMS:               5000,
		ConnectionToServerTimeoutMS: 5000,
		NumOperations:               1,
		SendMemoryLimitTCP:          4 * 1024 * 1024,
		SendMemoryLimitUDP:          4 * 1024 * 1024,
		RecvMemoryLimitTCP:          4 * 1024 * 1024,
		RecvMemoryLimitUDP:          4 * 1024 * 1024,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(devNull{}, nil))
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }

// startTestServer brings up a Server on loopback with dynamically
// assigned ports and returns its bound TCP/UDP addresses.
func startTestServer(t *testing.T, ctx context.Context, profile config.InstanceProfile) (*Server, string, string) {
	t.Helper()
	srv := NewServer(profile, 16, discardLogger())

	go func() {
		_ = srv.Run(ctx, "127.0.0.1:0", "127.0.0.1:0")
	}()

	require.Eventually(t, func() bool {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		return srv.listener != nil && (!profile.UDPEnabled || srv.udpConn != nil)
	}, 2*time.Second, 5*time.Millisecond)

	return srv, srv.listener.Addr().String(), srv.udpConn.LocalAddr().String()
}

func TestClientServer_ConnectHandshakeAndExchangeTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profile := testProfile()
	srv, tcpAddr, udpAddr := startTestServer(t, ctx, profile)
	defer srv.Close(context.Background())

	client := NewClient(profile, discardLogger())
	defer client.Close(context.Background())

	result := client.Connect(ctx, tcpAddr, udpAddr, 2*time.Second)
	require.Equal(t, PollConnected, result)
	assert.True(t, client.ClientConnected())

	require.Eventually(t, func() bool {
		return srv.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	joined, ok := srv.PullJoined()
	require.True(t, ok)
	assert.Equal(t, client.ClientID(), joined.ClientID)

	require.NoError(t, client.SendTCP([]byte("hello from client")))
	require.Eventually(t, func() bool {
		sc, ok := srv.Client(client.ClientID())
		return ok && sc.stats.Snapshot().TCPPacketsRecv == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.SendTCP(client.ClientID(), []byte("hello from server")))
	require.Eventually(t, func() bool {
		_, ok := client.RecvTCP()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.SendUDP([]byte("udp hello")))
	require.Eventually(t, func() bool {
		return srv.Stats().UDPPacketsRecv >= 1
	}, time.Second, 5*time.Millisecond)

	assert.Greater(t, client.RTT(), time.Duration(0), "handshake ack should have recorded an RTT sample")
}

func TestServer_RejectsBeyondMaxClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profile := testProfile()
	profile.UDPEnabled = false

	srv := NewServer(profile, 1, discardLogger())
	go func() {
		_ = srv.Run(ctx, "127.0.0.1:0", "127.0.0.1:0")
	}()
	require.Eventually(t, func() bool {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		return srv.listener != nil
	}, 2*time.Second, 5*time.Millisecond)
	defer srv.Close(context.Background())
	tcpAddr := srv.listener.Addr().String()

	first := NewClient(profile, discardLogger())
	defer first.Close(context.Background())
	require.Equal(t, PollConnected, first.Connect(ctx, tcpAddr, "", 2*time.Second))

	second := NewClient(profile, discardLogger())
	defer second.Close(context.Background())
	result := second.Connect(ctx, tcpAddr, "", time.Second)
	assert.NotEqual(t, PollConnected, result, "server at capacity must refuse the connection")
}

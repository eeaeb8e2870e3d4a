package socket

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-pryor/MikeNet-sub001/internal/completion"
	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/mode"
)

func TestTCPSocket_SendReceiveRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverConnCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverConn := <-serverConnCh

	received := make(chan string, 1)
	engine := completion.NewEngine(2, 4, func(_ context.Context, c completion.Completion) {
		if c.Buffer != nil {
			received <- string(c.Buffer.Bytes())
		}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx, 2)

	serverSock := NewTCPSocket(serverConn, mode.NewLengthPrefixMode(4096, false, nil), 0, 0, nil)
	go serverSock.ReadLoop(ctx, engine)

	clientSock := NewTCPSocket(clientConn, mode.NewLengthPrefixMode(4096, false, nil), 0, 0, nil)
	require.NoError(t, clientSock.Send([]byte("hello over tcp")))

	select {
	case got := <-received:
		assert.Equal(t, "hello over tcp", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	cancel()
	_ = clientSock.Close()
	_ = serverSock.Close()
}

func TestTCPSocket_SendRejectsOnceSendMemoryLimitExceeded(t *testing.T) {
	// net.Pipe is unbuffered and synchronous: with no reader draining the
	// other end, every Write blocks until something reads, holding the
	// send accountant's charge outstanding for as long as the test needs.
	clientConn, _ := net.Pipe()
	defer clientConn.Close()

	sock := NewTCPSocket(clientConn, mode.NewRawMode(nil), 0, 1024, nil)
	defer sock.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_ = sock.Send(make([]byte, 400))
		}()
	}

	// Give both blocked sends time to charge the accountant before the
	// third, synchronous send observes it.
	time.Sleep(50 * time.Millisecond)

	err := sock.Send(make([]byte, 400))
	require.Error(t, err)
	assert.ErrorIs(t, err, memacct.ErrMemoryLimitExceeded)

	sock.Close()
	wg.Wait()
}

func TestUDPSocket_SendReceiveRoundTrip(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientConn.Close()

	received := make(chan string, 1)
	engine := completion.NewEngine(2, 4, func(_ context.Context, c completion.Completion) {
		if c.Buffer != nil {
			received <- string(c.Buffer.Bytes())
		}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx, 2)

	serverSock := NewUDPSocket(serverConn, mode.NewCatchAllMode(0), 0, 0, nil)
	go serverSock.ReadLoop(ctx, engine, func(net.Addr) (uint32, bool) { return 1, true })

	_, err = clientConn.WriteTo([]byte("hello over udp"), serverConn.LocalAddr())
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "hello over udp", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	cancel()
}

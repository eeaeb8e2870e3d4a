package instance

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"syscall"
	"time"
)

// authRetryPeriod is how often the client resends its UDP authentication
// datagram while waiting for the server's TCP ack.
const authRetryPeriod = 150 * time.Millisecond

// handshakeTask drives a client's connect sequence as a small
// cancellable state machine on one dedicated goroutine, rather than as
// nested callbacks — grounded on a cluster.Syncer-style
// periodic-poll-loop pattern (internal/cluster/cluster.go), generalized
// here from "poll forever on an interval" to "poll at defined steps
// until a one-shot deadline". Cancellation is a flag checked at each
// suspension point (ctx.Done(), the cancel channel) plus closing the
// underlying socket, which unblocks any in-flight read.
type handshakeTask struct {
	client  *Client
	tcpAddr string
	udpAddr string
	timeout time.Duration

	cancel chan struct{}
	done   chan struct{}
	result atomic.Int32 // PollResult
}

func newHandshakeTask(c *Client, tcpAddr, udpAddr string, timeout time.Duration) *handshakeTask {
	t := &handshakeTask{
		client:  c,
		tcpAddr: tcpAddr,
		udpAddr: udpAddr,
		timeout: timeout,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	t.result.Store(int32(PollStillConnecting))
	return t
}

// Cancel requests the task stop at its next suspension point.
func (t *handshakeTask) Cancel() {
	select {
	case <-t.cancel:
	default:
		close(t.cancel)
	}
}

// Wait blocks until the task reaches a terminal result.
func (t *handshakeTask) Wait() PollResult {
	<-t.done
	return PollResult(t.result.Load())
}

// Poll returns the task's current result without blocking.
func (t *handshakeTask) Poll() PollResult {
	return PollResult(t.result.Load())
}

func (t *handshakeTask) finish(r PollResult) {
	t.result.Store(int32(r))
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// run executes the full connect sequence: TCP connect, optional
// handshake exchange, UDP authentication. It always closes done exactly
// once via finish.
func (t *handshakeTask) run(ctx context.Context) {
	deadline := time.Now().Add(t.timeout)
	dialCtx, cancelDial := context.WithDeadline(ctx, deadline)
	defer cancelDial()

	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", t.tcpAddr)
	if err != nil {
		t.client.setStatus(StatusDisconnected)
		t.finish(classifyDialErr(err))
		return
	}

	t.client.installTCPSocket(conn)

	if !t.client.profile.HandshakeEnabled {
		t.client.startTCPReadLoop(ctx)
		t.client.setStatus(StatusConnected)
		t.finish(PollConnected)
		return
	}

	t.client.setStatus(StatusConnecting)

	// The capture channel must be installed before the read loop starts
	// so the welcome packet can never be delivered to the normal
	// queue/callback path instead of the handshake task.
	welcomeCh := t.client.beginHandshakeCapture()
	defer t.client.endHandshakeCapture()
	t.client.startTCPReadLoop(ctx)

	select {
	case <-t.cancel:
		t.client.tcpSock.Close()
		t.finish(PollConnectionError)
		return
	case <-ctx.Done():
		t.client.tcpSock.Close()
		t.finish(PollConnectionError)
		return
	case <-time.After(time.Until(deadline)):
		t.client.tcpSock.Close()
		t.client.setStatus(StatusDisconnected)
		t.finish(PollTimedOut)
		return
	case raw, ok := <-welcomeCh:
		if !ok {
			t.client.setStatus(StatusDisconnected)
			t.finish(PollConnectionError)
			return
		}
		welcome, werr := DecodeWelcome(raw, t.client.profile.UDPEnabled)
		if werr != nil {
			t.client.tcpSock.Close()
			t.finish(PollConnectionError)
			return
		}
		t.client.clientID.Store(welcome.AssignedClient)

		if t.client.profile.UDPEnabled {
			if err := t.client.installUDPMode(welcome.UDPMode()); err != nil {
				t.client.tcpSock.Close()
				t.finish(PollConnectionError)
				return
			}
			if err := t.client.dialUDP(t.udpAddr); err != nil {
				t.client.tcpSock.Close()
				t.finish(PollConnectionError)
				return
			}
			t.client.startUDPReadLoop(ctx)

			auth := EncodeAuthentication(Authentication{
				AssignedClient: welcome.AssignedClient,
				Tokens:         welcome.Tokens,
			})

			stop := make(chan struct{})
			sentAt := time.Now()
			go pingSender(stop, authRetryPeriod, func() {
				_ = t.client.sendAuthDatagram(auth)
			})
			_ = t.client.sendAuthDatagram(auth)

			select {
			case <-t.cancel:
				close(stop)
				t.client.tcpSock.Close()
				t.finish(PollConnectionError)
				return
			case <-time.After(time.Until(deadline)):
				close(stop)
				t.client.tcpSock.Close()
				t.client.setStatus(StatusDisconnected)
				t.finish(PollTimedOut)
				return
			case ack, ok := <-welcomeCh:
				close(stop)
				if !ok || ack.Used() != 0 {
					t.client.tcpSock.Close()
					t.finish(PollConnectionError)
					return
				}
				t.client.rtt.Record(time.Since(sentAt))
			}
		}

		t.client.setStatus(StatusConnected)
		t.finish(PollConnected)
	}
}

// classifyDialErr maps a failed dial into the PollResult variant that
// distinguishes: refused vs timed out vs a generic connection error.
func classifyDialErr(err error) PollResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return PollTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return PollTimedOut
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return PollRefused
	}
	return PollConnectionError
}

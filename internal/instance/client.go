package instance

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/michael-pryor/MikeNet-sub001/internal/completion"
	"github.com/michael-pryor/MikeNet-sub001/internal/config"
	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/metrics"
	"github.com/michael-pryor/MikeNet-sub001/internal/mode"
	"github.com/michael-pryor/MikeNet-sub001/internal/socket"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// Client wraps one TCP socket and, once the handshake completes, one UDP
// socket, under a connect/send/recv surface.
// Sockets and their modes are owned by the Client and torn down together
// on Close.
type Client struct {
	profile config.InstanceProfile
	logger  *slog.Logger
	stats   *Stats
	rtt     *RTTSampler

	engine       *completion.Engine
	engineCancel context.CancelFunc

	tcpRecycler *memacct.Recycler
	udpRecycler *memacct.Recycler

	tcpSock *socket.TCPSocket
	udpSock *socket.UDPSocket
	udpConn *net.UDPConn
	udpMode mode.UDPMode

	clientID atomic.Uint32
	status   atomic.Int32

	tcpQueue *packetQueue
	udpQueue *packetQueue

	tcpCallback atomic.Pointer[func(*wire.Buffer)]
	udpCallback atomic.Pointer[func(*wire.Buffer)]

	hsMu    sync.Mutex
	hsChan  chan *wire.Buffer
	hsTask  *handshakeTask
	destroy atomic.Bool

	udpRetries    atomic.Int32
	maxUDPRetries int32
}

// NewClient creates an idle Client from profile. No network activity
// happens until Connect/ConnectAsync is called.
func NewClient(profile config.InstanceProfile, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		profile:       profile,
		logger:        logger,
		stats:         NewStats(),
		rtt:           NewRTTSampler(),
		tcpQueue:      newPacketQueue(profile.RecvMemoryLimitTCP),
		udpQueue:      newPacketQueue(profile.RecvMemoryLimitUDP),
		maxUDPRetries: 10,
	}
	c.status.Store(int32(StatusDisconnected))

	if profile.RecycleTCPPackets > 0 {
		c.tcpRecycler = memacct.NewRecycler(profile.RecycleTCPPacketBytes, profile.RecycleTCPPackets)
	}
	if profile.RecycleUDPPackets > 0 {
		c.udpRecycler = memacct.NewRecycler(profile.RecycleUDPPacketBytes, profile.RecycleUDPPackets)
	}

	c.engine = completion.NewEngine(2, 32, c.handle, logger)
	return c
}

func (c *Client) setStatus(s ConnectionStatus) { c.status.Store(int32(s)) }

// ConnectionStatus returns the client's current lifecycle state.
func (c *Client) ConnectionStatus() ConnectionStatus { return ConnectionStatus(c.status.Load()) }

// ClientConnected reports whether the client is in the CONNECTED state.
// A false result after a prior CONNECTED observation means the instance
// should be torn down by the caller.
func (c *Client) ClientConnected() bool { return c.ConnectionStatus() == StatusConnected }

// ClientID returns the id the server assigned during handshake, valid
// once ConnectionStatus is CONNECTED.
func (c *Client) ClientID() uint32 { return c.clientID.Load() }

// Stats returns a point-in-time snapshot of this client's traffic
// counters.
func (c *Client) Stats() Snapshot { return c.stats.Snapshot() }

// SetMetrics attaches reg so this client's Stats also increments
// Prometheus counters.
func (c *Client) SetMetrics(reg *metrics.Registry) { c.stats.SetMetrics(reg) }

// RTT returns the most recent round-trip-time sample, or zero if none
// has been recorded yet.
func (c *Client) RTT() time.Duration { return c.rtt.Last() }

// Connect performs a blocking connect: it returns once the handshake
// reaches a terminal state (CONNECTED, REFUSED, TIMED_OUT, or
// CONNECTION_ERROR) or ctx is cancelled.
func (c *Client) Connect(ctx context.Context, tcpAddr, udpAddr string, timeout time.Duration) PollResult {
	engineCtx, cancel := context.WithCancel(ctx)
	c.engineCancel = cancel
	c.engine.Start(engineCtx, 2)

	task := newHandshakeTask(c, tcpAddr, udpAddr, timeout)
	c.hsMu.Lock()
	c.hsTask = task
	c.hsMu.Unlock()
	task.run(engineCtx)
	return task.Wait()
}

// ConnectAsync starts the handshake in the background and returns
// immediately; poll PollConnect for progress and StopConnect to cancel.
func (c *Client) ConnectAsync(ctx context.Context, tcpAddr, udpAddr string, timeout time.Duration) {
	engineCtx, cancel := context.WithCancel(ctx)
	c.engineCancel = cancel
	c.engine.Start(engineCtx, 2)

	task := newHandshakeTask(c, tcpAddr, udpAddr, timeout)
	c.hsMu.Lock()
	c.hsTask = task
	c.hsMu.Unlock()
	go task.run(engineCtx)
}

// PollConnect returns the in-progress handshake's current result
// without blocking.
func (c *Client) PollConnect() PollResult {
	c.hsMu.Lock()
	task := c.hsTask
	c.hsMu.Unlock()
	if task == nil {
		return PollStillConnecting
	}
	return task.Poll()
}

// StopConnect cancels an in-progress handshake at its next suspension
// point.
func (c *Client) StopConnect() {
	c.hsMu.Lock()
	task := c.hsTask
	c.hsMu.Unlock()
	if task != nil {
		task.Cancel()
	}
}

// beginHandshakeCapture installs a channel the handshake task reads TCP
// packets from in place of the normal queue/callback dispatch — the
// "user's TCP receive callback... temporarily suspended while the
// handshake task uses the packet queue" behavior.
func (c *Client) beginHandshakeCapture() chan *wire.Buffer {
	c.hsMu.Lock()
	defer c.hsMu.Unlock()
	c.hsChan = make(chan *wire.Buffer, 4)
	return c.hsChan
}

// endHandshakeCapture re-enables ordinary TCP dispatch.
func (c *Client) endHandshakeCapture() {
	c.hsMu.Lock()
	defer c.hsMu.Unlock()
	if c.hsChan != nil {
		close(c.hsChan)
		c.hsChan = nil
	}
}

func (c *Client) installTCPSocket(conn net.Conn) {
	m := newTCPMode(c.profile, c.tcpRecycler)
	c.tcpSock = socket.NewTCPSocket(conn, m, c.profile.RecvBufferSizeTCP, c.profile.SendMemoryLimitTCP, c.logger)
}

func (c *Client) startTCPReadLoop(ctx context.Context) {
	go c.tcpSock.ReadLoop(ctx, c.engine)
}

func (c *Client) installUDPMode(kind config.UDPModeKind) error {
	m, err := newUDPMode(kind, c.profile)
	if err != nil {
		return err
	}
	c.udpMode = m
	return nil
}

func (c *Client) dialUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("instance: resolve udp addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("instance: dial udp: %w", err)
	}
	c.udpConn = conn
	c.udpSock = socket.NewUDPSocket(conn, c.udpMode, c.profile.RecvBufferSizeUDP, c.profile.SendMemoryLimitUDP, c.logger)
	return nil
}

func (c *Client) startUDPReadLoop(ctx context.Context) {
	go c.udpSock.ReadLoop(ctx, c.engine, func(net.Addr) (uint32, bool) { return 0, true })
}

func (c *Client) sendAuthDatagram(datagram []byte) error {
	if c.udpConn == nil {
		return ErrModeNotLoaded
	}
	_, err := c.udpConn.Write(datagram)
	return err
}

// handle is the completion.Handler routing TCP/UDP completions for this
// client between the in-progress handshake capture channel (if any),
// a registered user callback, or the packet queue.
func (c *Client) handle(_ context.Context, comp completion.Completion) {
	if comp.Err != nil {
		if c.tcpSock != nil && comp.Key == c.tcpSock.Key {
			// A TCP receive failure is always fatal for that stream
			// (rather than a second read/write failure), other than the "close in progress" case
			// already filtered by the socket's own ctx check.
			c.setStatus(StatusDisconnecting)
			return
		}
		if c.udpSock != nil && comp.Key == c.udpSock.Key {
			if c.udpRetries.Add(1) > c.maxUDPRetries {
				c.setStatus(StatusDisconnecting)
			}
		}
		return
	}
	if c.tcpSock != nil && comp.Key == c.tcpSock.Key {
		c.stats.RecordTCPRecv(comp.Buffer.Used())

		c.hsMu.Lock()
		hsChan := c.hsChan
		c.hsMu.Unlock()
		if hsChan != nil {
			select {
			case hsChan <- comp.Buffer:
			default:
			}
			return
		}

		if cb := c.tcpCallback.Load(); cb != nil {
			(*cb)(comp.Buffer)
			if c.tcpRecycler != nil {
				c.tcpRecycler.Recycle(comp.Buffer)
			}
		} else if err := c.tcpQueue.Push(comp.Buffer); err != nil {
			c.stats.RecordDrop("memory_limit")
			c.logger.Warn("instance: client TCP receive queue memory limit exceeded, dropping packet", "err", err)
		}
		return
	}
	if c.udpSock != nil && comp.Key == c.udpSock.Key {
		c.udpRetries.Store(0)
		c.stats.RecordUDPRecv(comp.Buffer.Used())
		if cb := c.udpCallback.Load(); cb != nil {
			(*cb)(comp.Buffer)
		} else if err := c.udpQueue.Push(comp.Buffer); err != nil {
			c.stats.RecordDrop("memory_limit")
			c.logger.Warn("instance: client UDP receive queue memory limit exceeded, dropping packet", "err", err)
		}
		return
	}
}

// SendTCP sends payload over the TCP connection, framed by the
// configured TCP mode.
func (c *Client) SendTCP(payload []byte) error {
	if c.tcpSock == nil {
		return ErrClosed
	}
	if err := c.tcpSock.Send(payload); err != nil {
		return err
	}
	c.stats.RecordTCPSend(len(payload))
	return nil
}

// SendUDP sends payload to the server over UDP, framed by the installed
// UDP mode.
func (c *Client) SendUDP(payload []byte) error {
	if c.udpSock == nil {
		return ErrModeNotLoaded
	}
	if err := c.udpSock.SendTo(c.clientID.Load(), payload, c.udpConn.RemoteAddr()); err != nil {
		return err
	}
	c.stats.RecordUDPSend(len(payload))
	return nil
}

// SendUDPOp sends payload to the server over UDP tagged with opID,
// routing it into that operation's slot in the installed UDP mode's
// per-client-per-operation packet store. Returns ErrModeNotLoaded if no
// UDP mode is installed, or ErrInvalidOperationID if the installed mode
// doesn't support the operation-id axis.
func (c *Client) SendUDPOp(opID uint32, payload []byte) error {
	if c.udpSock == nil {
		return ErrModeNotLoaded
	}
	opMode, ok := c.udpMode.(mode.OperationAddressable)
	if !ok {
		return ErrInvalidOperationID
	}
	framed := opMode.GetSendObjectOp(c.clientID.Load(), opID, payload)
	if err := c.udpSock.SendToFramed(framed, c.udpConn.RemoteAddr()); err != nil {
		return err
	}
	c.stats.RecordUDPSend(len(payload))
	return nil
}

// RecvTCP pulls one queued TCP packet, or (nil, false) if none is
// queued. Has no effect when a TCP receive callback is installed, since
// packets are delivered synchronously to the callback instead.
func (c *Client) RecvTCP() (*wire.Buffer, bool) { return c.tcpQueue.Pop() }

// RecvUDP pulls one queued UDP packet, or (nil, false) if none is
// queued.
func (c *Client) RecvUDP() (*wire.Buffer, bool) { return c.udpQueue.Pop() }

// SetTCPRecvCallback installs fn to be invoked synchronously for every
// TCP packet as it is framed, bypassing the queue. Pass nil to revert to
// queue-pull delivery.
func (c *Client) SetTCPRecvCallback(fn func(*wire.Buffer)) {
	if fn == nil {
		c.tcpCallback.Store(nil)
		return
	}
	c.tcpCallback.Store(&fn)
}

// SetUDPRecvCallback installs fn to be invoked synchronously for every
// UDP packet delivered by the mode. Pass nil to revert to queue-pull
// delivery.
func (c *Client) SetUDPRecvCallback(fn func(*wire.Buffer)) {
	if fn == nil {
		c.udpCallback.Store(nil)
		return
	}
	c.udpCallback.Store(&fn)
}

// ShutdownTCP half-closes the TCP connection's write side, initiating a
// graceful disconnect.
func (c *Client) ShutdownTCP() error {
	if c.tcpSock == nil {
		return ErrClosed
	}
	return c.tcpSock.ShutdownTCP()
}

// Close tears the client down: stops the handshake if in progress,
// closes both sockets, and stops the completion engine. Safe to call
// more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.destroy.CompareAndSwap(false, true) {
		return nil
	}
	c.StopConnect()
	if c.tcpSock != nil {
		_ = c.tcpSock.Close()
	}
	if c.udpSock != nil {
		_ = c.udpSock.Close()
	}
	if c.engineCancel != nil {
		c.engineCancel()
	}
	c.engine.Stop()
	c.setStatus(StatusDisconnected)
	return nil
}

// RequestDestroy marks the client for teardown by the owning
// application's next poll, matching a "set a flag observed by
// the façade" self-destroy lifecycle.
func (c *Client) RequestDestroy() { c.destroy.Store(true) }

// DestroyRequested reports whether RequestDestroy has been called or the
// connection transitioned to an unrecoverable error state.
func (c *Client) DestroyRequested() bool {
	return c.destroy.Load() || c.ConnectionStatus() == StatusDisconnecting
}

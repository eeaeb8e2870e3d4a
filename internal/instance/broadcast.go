package instance

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/michael-pryor/MikeNet-sub001/internal/completion"
	"github.com/michael-pryor/MikeNet-sub001/internal/config"
	"github.com/michael-pryor/MikeNet-sub001/internal/metrics"
	"github.com/michael-pryor/MikeNet-sub001/internal/mode"
	"github.com/michael-pryor/MikeNet-sub001/internal/socket"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
	"golang.org/x/sys/unix"
)

// Broadcast is a single UDP socket with broadcast enabled and no
// handshake — a third instance flavor alongside Client and Server.
// Receive is optional;
// when on, a consecutive-failure counter allows N failed recv()s before
// the instance reports fatal, matching every other instance's
// retry-then-fatal UDP failure policy.
type Broadcast struct {
	profile      config.InstanceProfile
	logger       *slog.Logger
	stats        *Stats
	maxRetries   int32
	broadcastTo  *net.UDPAddr
	conn         *net.UDPConn
	sock         *socket.UDPSocket
	engine       *completion.Engine
	engineCancel context.CancelFunc

	queue    *packetQueue
	callback atomic.Pointer[func(*wire.Buffer)]

	retries atomic.Int32
	fatal   atomic.Bool
}

// NewBroadcast creates an idle Broadcast instance; Run binds it and sets
// the default send target.
func NewBroadcast(profile config.InstanceProfile, maxRetries int, logger *slog.Logger) *Broadcast {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Broadcast{
		profile:    profile,
		logger:     logger,
		stats:      NewStats(),
		maxRetries: int32(maxRetries),
		queue:      newPacketQueue(profile.RecvMemoryLimitUDP),
	}
}

// Run binds localAddr, enables SO_BROADCAST (and SO_REUSEADDR when
// profile.ReusableUDP is set), resolves
// broadcastAddr as the default send target, and — if enableRecv is true
// — starts the receive loop. It returns once setup completes; the
// receive loop (if started) runs in the background until ctx is
// cancelled.
func (b *Broadcast) Run(ctx context.Context, localAddr, broadcastAddr string, enableRecv bool) error {
	bAddr, err := net.ResolveUDPAddr("udp", broadcastAddr)
	if err != nil {
		return fmt.Errorf("instance: resolve broadcast addr: %w", err)
	}
	b.broadcastTo = bAddr

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if serr := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); serr != nil {
					ctrlErr = serr
					return
				}
				if b.profile.ReusableUDP {
					ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp", localAddr)
	if err != nil {
		return fmt.Errorf("instance: listen broadcast udp: %w", err)
	}
	b.conn = pc.(*net.UDPConn)

	m := mode.NewCatchAllMode(b.profile.RecvMemoryLimitUDP)
	b.sock = socket.NewUDPSocket(b.conn, m, b.profile.RecvBufferSizeUDP, b.profile.SendMemoryLimitUDP, b.logger)

	engineCtx, cancel := context.WithCancel(ctx)
	b.engineCancel = cancel
	b.engine = completion.NewEngine(1, 16, b.handle, b.logger)
	b.engine.Start(engineCtx, 1)

	if enableRecv {
		go b.sock.ReadLoop(engineCtx, b.engine, func(net.Addr) (uint32, bool) { return 0, true })
	}
	return nil
}

func (b *Broadcast) handle(_ context.Context, comp completion.Completion) {
	if comp.Err != nil {
		if b.retries.Add(1) > b.maxRetries {
			b.fatal.Store(true)
		}
		return
	}
	b.retries.Store(0)
	b.stats.RecordUDPRecv(comp.Buffer.Used())
	if cb := b.callback.Load(); cb != nil {
		(*cb)(comp.Buffer)
	} else if err := b.queue.Push(comp.Buffer); err != nil {
		b.stats.RecordDrop("memory_limit")
		b.logger.Warn("instance: broadcast receive queue memory limit exceeded, dropping packet", "err", err)
	}
}

// SendUDP broadcasts payload to the configured broadcast address.
func (b *Broadcast) SendUDP(payload []byte) error {
	if b.sock == nil {
		return ErrClosed
	}
	if err := b.sock.SendTo(0, payload, b.broadcastTo); err != nil {
		return err
	}
	b.stats.RecordUDPSend(len(payload))
	return nil
}

// SendUDPTo sends payload to an explicit address instead of the default
// broadcast target.
func (b *Broadcast) SendUDPTo(addr string, payload []byte) error {
	if b.sock == nil {
		return ErrClosed
	}
	target, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	if err := b.sock.SendTo(0, payload, target); err != nil {
		return err
	}
	b.stats.RecordUDPSend(len(payload))
	return nil
}

// Stats returns a point-in-time snapshot of this instance's traffic
// counters.
func (b *Broadcast) Stats() Snapshot { return b.stats.Snapshot() }

// SetMetrics attaches reg so this instance's Stats also increments
// Prometheus counters.
func (b *Broadcast) SetMetrics(reg *metrics.Registry) { b.stats.SetMetrics(reg) }

// RecvUDP pulls one queued packet, or (nil, false) if none is queued.
func (b *Broadcast) RecvUDP() (*wire.Buffer, bool) { return b.queue.Pop() }

// SetUDPRecvCallback installs fn to be invoked synchronously for every
// received datagram, bypassing the queue.
func (b *Broadcast) SetUDPRecvCallback(fn func(*wire.Buffer)) {
	if fn == nil {
		b.callback.Store(nil)
		return
	}
	b.callback.Store(&fn)
}

// Fatal reports whether the consecutive-receive-failure retry counter
// has overflowed.
func (b *Broadcast) Fatal() bool { return b.fatal.Load() }

// Close stops the receive loop and releases the socket.
func (b *Broadcast) Close(ctx context.Context) error {
	if b.engineCancel != nil {
		b.engineCancel()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	if b.engine != nil {
		b.engine.Stop()
	}
	return nil
}

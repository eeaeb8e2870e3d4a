// Package socket wraps a single OS TCP or UDP socket with the
// completion-engine integration: a dedicated read-loop goroutine that
// blocks on the kernel, hands each chunk to a mode for framing, and
// posts completed packets to a shared completion.Engine. A TCP socket,
// and a UDP socket in any mode but catch-all, re-arms its next read only
// after the previous one's Handler call has returned, which is what
// gives the runtime its within-socket ordering guarantee; a catch-all
// UDP socket posts without waiting.
package socket

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/michael-pryor/MikeNet-sub001/internal/completion"
	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/mode"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// State is the lifecycle state of a Socket.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// TCPSocket owns one net.Conn and a TCPMode for framing. Its ReadLoop is
// the single goroutine allowed to touch the underlying connection's Read
// side; Send may be called concurrently from any goroutine.
type TCPSocket struct {
	Key    completion.Key
	Logger *slog.Logger

	conn net.Conn
	mode mode.TCPMode

	sendMu   sync.Mutex
	sendAcct *memacct.Counter
	state    atomic.Int32

	readBufSize int
}

// NewTCPSocket wraps conn with the given framing mode. readBufSize sizes
// the chunk read from the kernel on each ReadLoop iteration.
// sendMemoryLimit bounds the set of pending send records this socket may
// have outstanding at once (0 = unrestricted).
func NewTCPSocket(conn net.Conn, m mode.TCPMode, readBufSize, sendMemoryLimit int, logger *slog.Logger) *TCPSocket {
	if readBufSize <= 0 {
		readBufSize = 4096
	}
	if sendMemoryLimit < 0 {
		sendMemoryLimit = 0
	}
	s := &TCPSocket{
		Key:         completion.NewKey(),
		Logger:      logger,
		conn:        conn,
		mode:        m,
		sendAcct:    memacct.NewCounter(uint64(sendMemoryLimit)),
		readBufSize: readBufSize,
	}
	s.state.Store(int32(StateConnected))
	return s
}

// State returns the socket's current lifecycle state.
func (s *TCPSocket) State() State { return State(s.state.Load()) }

// ReadLoop blocks on conn.Read, feeds each chunk to the mode, and posts
// each completed packet to engine. It returns when the connection is
// closed, ctx is cancelled, or a read error occurs; the caller is
// responsible for closing the connection. Per the ordering invariant,
// this goroutine does not issue its next Read until engine.Post (and
// therefore the matching Handler call) has returned for every packet
// extracted from the current chunk.
func (s *TCPSocket) ReadLoop(ctx context.Context, engine *completion.Engine) {
	buf := make([]byte, s.readBufSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			packets, ferr := s.mode.DealWithData(buf[:n])
			for _, p := range packets {
				c := completion.Completion{Key: s.Key, Buffer: p}
				if perr := engine.Post(ctx, c); perr != nil {
					return
				}
			}
			if ferr != nil {
				s.postError(ctx, engine, ferr)
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				s.postError(ctx, engine, err)
			}
			s.state.Store(int32(StateClosed))
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *TCPSocket) postError(ctx context.Context, engine *completion.Engine, err error) {
	_ = engine.Post(ctx, completion.Completion{Key: s.Key, Err: err})
}

// Send frames payload via the mode and writes it to the connection.
// Sends from multiple goroutines are serialized; there is no
// inter-send ordering guarantee across callers, only that a single
// Send call is atomic with respect to other Send calls. The framed
// send record's size is charged against the socket's send accountant
// before the write is attempted, and released once the write
// completes; a charge that would exceed the configured send-memory
// limit fails the call before anything reaches the kernel.
func (s *TCPSocket) Send(payload []byte) error {
	framed := s.mode.GetSendObject(payload)

	n := uint64(len(framed))
	if err := s.sendAcct.Add(n); err != nil {
		return err
	}
	defer s.sendAcct.Sub(n)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_, err := s.conn.Write(framed)
	return err
}

// ShutdownTCP half-closes the write side, delivering a FIN so the peer
// observes end-of-stream while still-queued receives continue to drain.
func (s *TCPSocket) ShutdownTCP() error {
	s.state.Store(int32(StateClosing))
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return s.conn.Close()
}

// Close tears down the underlying connection.
func (s *TCPSocket) Close() error {
	s.state.Store(int32(StateClosed))
	return s.conn.Close()
}

// RemoteAddr returns the socket's peer address.
func (s *TCPSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// UDPSocket owns one *net.UDPConn and a UDPMode for framing/routing.
type UDPSocket struct {
	Key    completion.Key
	Logger *slog.Logger

	conn net.PacketConn
	mode mode.UDPMode

	sendAcct *memacct.Counter

	readBufSize int
}

// NewUDPSocket wraps conn with the given UDP mode. sendMemoryLimit bounds
// the set of pending send records this socket may have outstanding at
// once (0 = unrestricted).
func NewUDPSocket(conn net.PacketConn, m mode.UDPMode, readBufSize, sendMemoryLimit int, logger *slog.Logger) *UDPSocket {
	if readBufSize <= 0 {
		readBufSize = 65536
	}
	if sendMemoryLimit < 0 {
		sendMemoryLimit = 0
	}
	return &UDPSocket{
		Key:         completion.NewKey(),
		Logger:      logger,
		conn:        conn,
		mode:        m,
		sendAcct:    memacct.NewCounter(uint64(sendMemoryLimit)),
		readBufSize: readBufSize,
	}
}

// ReadLoop blocks on conn.ReadFrom, dispatching each datagram through
// the mode. A datagram that survives filtering is posted with
// engine.Post, so the next read waits for its Handler call; in
// catch-all mode, which has no ordering to keep, it is posted
// non-blocking instead — UDP sheds load under overload rather than
// stalling the kernel receive queue, matching a recvLoop/workerLoop
// split.
func (s *UDPSocket) ReadLoop(ctx context.Context, engine *completion.Engine, clientIDOf func(net.Addr) (uint32, bool)) {
	buf := make([]byte, s.readBufSize)
	for {
		n, peerAddr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A UDP read error is not fatal by itself: post it for the
			// instance layer's retry-counter bookkeeping and re-arm, rather
			// than tearing the socket down here.
			_ = engine.Post(ctx, completion.Completion{Key: s.Key, Err: err})
			continue
		}
		clientID, ok := clientIDOf(peerAddr)
		if !ok {
			continue
		}
		packet, derr := s.mode.DealWithData(clientID, buf[:n])
		if derr != nil || packet == nil {
			continue
		}
		addr, _ := wire.ParseAddress(udpHost(peerAddr), udpPort(peerAddr))
		c := completion.Completion{Key: s.Key, Buffer: packet, Peer: addr}
		if _, catchAll := s.mode.(*mode.CatchAllMode); catchAll {
			engine.TryPost(c)
		} else if perr := engine.Post(ctx, c); perr != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// SendTo frames payload via the mode and writes it to addr. The framed
// record is charged against the socket's send accountant before the
// write and released once it completes.
func (s *UDPSocket) SendTo(clientID uint32, payload []byte, addr net.Addr) error {
	framed := s.mode.GetSendObject(clientID, payload)
	return s.sendFramed(framed, addr)
}

// SendToFramed writes an already-framed datagram to addr, bypassing the
// mode's GetSendObject — for callers (e.g. mode.OperationAddressable)
// that need to frame through a method GetSendObject's signature doesn't
// cover.
func (s *UDPSocket) SendToFramed(framed []byte, addr net.Addr) error {
	return s.sendFramed(framed, addr)
}

func (s *UDPSocket) sendFramed(framed []byte, addr net.Addr) error {
	n := uint64(len(framed))
	if err := s.sendAcct.Add(n); err != nil {
		return err
	}
	defer s.sendAcct.Sub(n)

	// A connected socket (the client's DialUDP conn) rejects WriteTo, so
	// it writes to its fixed peer instead.
	if uc, ok := s.conn.(*net.UDPConn); ok && uc.RemoteAddr() != nil {
		_, err := uc.Write(framed)
		return err
	}
	_, err := s.conn.WriteTo(framed, addr)
	return err
}

// Close tears down the underlying socket.
func (s *UDPSocket) Close() error { return s.conn.Close() }

// Mode returns the UDPMode framing this socket's traffic, so the owning
// instance can call mode-specific operations (DealWithData for
// unmapped-address routing, ResetClient on disconnect) that the
// socket's own ReadLoop doesn't need.
func (s *UDPSocket) Mode() mode.UDPMode { return s.mode }

func udpHost(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	return ""
}

func udpPort(addr net.Addr) uint16 {
	if u, ok := addr.(*net.UDPAddr); ok {
		return uint16(u.Port)
	}
	return 0
}

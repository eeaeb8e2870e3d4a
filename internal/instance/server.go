package instance

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/michael-pryor/MikeNet-sub001/internal/completion"
	"github.com/michael-pryor/MikeNet-sub001/internal/config"
	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/metrics"
	"github.com/michael-pryor/MikeNet-sub001/internal/mode"
	"github.com/michael-pryor/MikeNet-sub001/internal/socket"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// ServerClient is the per-connection record a server holds for one
// accepted client: a SERVER_CLIENT instance state, reusing
// most of the client-side data shapes (queues, stats) while tracking
// the bits specific to being the server's side of a connection (the
// handshake-out deadline, the bound UDP source address).
type ServerClient struct {
	ID      uint32
	TraceID string
	status  atomic.Int32

	tcpSock *socket.TCPSocket
	udpAddr *net.UDPAddr

	tokens [TokenCount]int32

	tcpQueue *packetQueue
	udpQueue *packetQueue

	tcpCallback atomic.Pointer[func(*wire.Buffer)]
	udpCallback atomic.Pointer[func(*wire.Buffer)]

	stats *Stats

	authAckCh chan struct{}
	authOnce  sync.Once
}

func newServerClient(id uint32, tcpSock *socket.TCPSocket, tokens [TokenCount]int32, profile config.InstanceProfile) *ServerClient {
	sc := &ServerClient{
		ID:        id,
		TraceID:   xid.New().String(),
		tcpSock:   tcpSock,
		tokens:    tokens,
		tcpQueue:  newPacketQueue(profile.RecvMemoryLimitTCP),
		udpQueue:  newPacketQueue(profile.RecvMemoryLimitUDP),
		stats:     NewStats(),
		authAckCh: make(chan struct{}),
	}
	sc.status.Store(int32(StatusConnectedAC))
	return sc
}

// ConnectionStatus returns this client record's current state.
func (sc *ServerClient) ConnectionStatus() ConnectionStatus { return ConnectionStatus(sc.status.Load()) }

func (sc *ServerClient) setStatus(s ConnectionStatus) { sc.status.Store(int32(s)) }

func (sc *ServerClient) signalAuthenticated() {
	sc.authOnce.Do(func() { close(sc.authAckCh) })
}

// Stats returns a point-in-time snapshot of this client's traffic
// counters.
func (sc *ServerClient) Stats() Snapshot { return sc.stats.Snapshot() }

// RecvTCP pulls one queued TCP packet for this client.
func (sc *ServerClient) RecvTCP() (*wire.Buffer, bool) { return sc.tcpQueue.Pop() }

// RecvUDP pulls one queued UDP packet for this client.
func (sc *ServerClient) RecvUDP() (*wire.Buffer, bool) { return sc.udpQueue.Pop() }

// SetTCPRecvCallback installs fn to be invoked synchronously for every
// TCP packet framed from this client, bypassing its queue.
func (sc *ServerClient) SetTCPRecvCallback(fn func(*wire.Buffer)) {
	if fn == nil {
		sc.tcpCallback.Store(nil)
		return
	}
	sc.tcpCallback.Store(&fn)
}

// SetUDPRecvCallback installs fn to be invoked synchronously for every
// UDP packet delivered for this client, bypassing its queue.
func (sc *ServerClient) SetUDPRecvCallback(fn func(*wire.Buffer)) {
	if fn == nil {
		sc.udpCallback.Store(nil)
		return
	}
	sc.udpCallback.Store(&fn)
}

// ClientJoinedEvent / ClientLeftEvent are the entries in the server's
// join/leave notification queues ("client joined queue and
// client left queue readable by the application").
type ClientJoinedEvent struct{ ClientID uint32 }
type ClientLeftEvent struct {
	ClientID uint32
	Reason   error
}

// Server manages its listening TCP socket(s), its UDP socket(s) (sends
// always go out through the first), and the array of connected clients.
// Each listener runs its own accept goroutine: with a single listener
// (ReusableTCP unset) client-id allocation is totally ordered per
// connection; with one listener per CPU core it is ordered only per
// listener.
type Server struct {
	profile    config.InstanceProfile
	logger     *slog.Logger
	maxClients uint32

	listener  net.Listener
	listeners []net.Listener // every listener, listener first; one SO_REUSEPORT listener per core when ReusableTCP is set
	udpConn   *net.UDPConn
	udpConns  []*net.UDPConn // every UDP socket, udpConn first; one SO_REUSEPORT socket per core when ReusableUDP is set
	udpSock   *socket.UDPSocket

	tcpRecycler *memacct.Recycler

	engine       *completion.Engine
	engineCancel context.CancelFunc

	ids *idAllocator

	// ID identifies this running server instance in logs, independent
	// of any client-facing id.
	ID string

	mu          sync.RWMutex
	clients     map[uint32]*ServerClient
	addrToID    map[string]uint32
	joinedQueue []ClientJoinedEvent
	leftQueue   []ClientLeftEvent

	stats   *Stats
	metrics atomic.Pointer[metrics.Registry]
}

// NewServer creates an idle Server bound to no listener yet; call Run to
// start accepting.
func NewServer(profile config.InstanceProfile, maxClients uint32, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	logger = logger.With("server_id", id)
	s := &Server{
		profile:    profile,
		logger:     logger,
		maxClients: maxClients,
		ids:        newIDAllocator(maxClients),
		ID:         id,
		clients:    make(map[uint32]*ServerClient),
		addrToID:   make(map[string]uint32),
		stats:      NewStats(),
	}
	if profile.RecycleTCPPackets > 0 {
		s.tcpRecycler = memacct.NewRecycler(profile.RecycleTCPPacketBytes, profile.RecycleTCPPackets)
	}
	return s
}

// Run binds tcpAddr/udpAddr and runs the accept loop(s) and UDP receive
// loop(s) until ctx is cancelled. When profile.ReusableTCP/ReusableUDP
// is set, one SO_REUSEPORT listener/socket per CPU core is opened
// instead of one, letting the kernel load-balance accepts/datagrams
// across cores; every listener feeds the same completion engine, and
// every UDP socket's read loop dispatches straight into the same client
// table, so accept ordering across listeners is no longer
// totally ordered in that mode (only per-listener).
func (s *Server) Run(ctx context.Context, tcpAddr, udpAddr string) error {
	engineCtx, cancel := context.WithCancel(ctx)
	s.engineCancel = cancel

	listeners, err := s.openTCPListeners(engineCtx, tcpAddr)
	if err != nil {
		cancel()
		return err
	}
	s.listener = listeners[0]
	s.listeners = listeners

	if s.profile.UDPEnabled {
		conns, err := s.openUDPConns(engineCtx, udpAddr)
		if err != nil {
			for _, ln := range listeners {
				_ = ln.Close()
			}
			cancel()
			return err
		}
		s.udpConn = conns[0]
		s.udpConns = conns

		udpMode, err := newUDPMode(s.profile.ModeUDP, s.profile)
		if err != nil {
			for _, ln := range listeners {
				_ = ln.Close()
			}
			for _, c := range conns {
				_ = c.Close()
			}
			cancel()
			return err
		}
		s.udpSock = socket.NewUDPSocket(s.udpConn, udpMode, s.profile.RecvBufferSizeUDP, s.profile.SendMemoryLimitUDP, s.logger)
	}

	s.engine = completion.NewEngine(4, 128, s.handle, s.logger)
	s.engine.Start(engineCtx, 4)

	for _, conn := range s.udpConns {
		go s.udpReadLoop(engineCtx, conn)
	}

	go func() {
		<-engineCtx.Done()
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners))
	for i, ln := range listeners {
		wg.Add(1)
		go func(i int, ln net.Listener) {
			defer wg.Done()
			if err := s.acceptLoop(engineCtx, ln); err != nil {
				errCh <- err
			}
		}(i, ln)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// openTCPListeners returns one plain listener, or one SO_REUSEPORT
// listener per CPU core when profile.ReusableTCP is set.
func (s *Server) openTCPListeners(ctx context.Context, addr string) ([]net.Listener, error) {
	if !s.profile.ReusableTCP {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("instance: listen tcp: %w", err)
		}
		return []net.Listener{ln}, nil
	}

	n := runtime.NumCPU()
	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		ln, err := socket.ListenTCPReusePort(ctx, addr)
		if err != nil {
			for _, existing := range listeners {
				_ = existing.Close()
			}
			return nil, fmt.Errorf("instance: listen tcp reuseport: %w", err)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

// openUDPConns returns one plain UDP socket, or one SO_REUSEPORT socket
// per CPU core when profile.ReusableUDP is set.
func (s *Server) openUDPConns(ctx context.Context, addr string) ([]*net.UDPConn, error) {
	if !s.profile.ReusableUDP {
		resolved, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("instance: resolve udp addr: %w", err)
		}
		conn, err := net.ListenUDP("udp", resolved)
		if err != nil {
			return nil, fmt.Errorf("instance: listen udp: %w", err)
		}
		return []*net.UDPConn{conn}, nil
	}

	n := runtime.NumCPU()
	conns := make([]*net.UDPConn, 0, n)
	for i := 0; i < n; i++ {
		conn, err := socket.ListenUDPReusePort(ctx, addr)
		if err != nil {
			for _, existing := range conns {
				_ = existing.Close()
			}
			return nil, fmt.Errorf("instance: listen udp reuseport: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// acceptLoop runs one listener's accept thread. With a single listener,
// client-id allocation is totally ordered; with multiple SO_REUSEPORT
// listeners, allocation is still safe (idAllocator is its own lock) but
// no longer ordered across listeners.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.onAccept(ctx, conn)
	}
}

func (s *Server) onAccept(ctx context.Context, conn net.Conn) {
	id, ok := s.ids.Acquire()
	if !ok {
		s.logger.Warn("instance: server full, rejecting connection", "remote", conn.RemoteAddr())
		s.recordHandshake("rejected_full")
		_ = conn.Close()
		return
	}

	tokens := randomTokens()
	tcpMode := newTCPMode(s.profile, s.tcpRecycler)
	tcpSock := socket.NewTCPSocket(conn, tcpMode, s.profile.RecvBufferSizeTCP, s.profile.SendMemoryLimitTCP, s.logger)

	sc := newServerClient(id, tcpSock, tokens, s.profile)

	s.mu.Lock()
	s.clients[id] = sc
	s.mu.Unlock()

	s.logger.Info("instance: client accepted", "client_id", id, "trace_id", sc.TraceID, "remote", conn.RemoteAddr())
	go tcpSock.ReadLoop(ctx, s.engine)

	welcome := Welcome{
		MaxClients:     s.maxClients,
		NumOperations:  uint32(s.profile.NumOperations),
		UDPModeDiscrim: udpModeDiscriminant(s.profile.ModeUDP),
		AssignedClient: id,
		Tokens:         tokens,
		UDPEnabled:     s.profile.UDPEnabled,
	}
	buf := EncodeWelcome(welcome)
	if err := tcpSock.Send(buf.Bytes()); err != nil {
		s.recordHandshake("error")
		s.disconnect(id, err)
		return
	}

	if !s.profile.UDPEnabled {
		sc.setStatus(StatusConnected)
		s.recordHandshake("connected")
		s.pushJoined(id)
		return
	}

	go s.runHandshakeOutTimer(ctx, sc)
}

// runHandshakeOutTimer waits up to ConnectionToServerTimeoutMS for the
// client's UDP authentication datagram to arrive; on timeout the client
// record is torn down.
func (s *Server) runHandshakeOutTimer(ctx context.Context, sc *ServerClient) {
	timeout := time.Duration(s.profile.ConnectionToServerTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-sc.authAckCh:
		sc.setStatus(StatusConnected)
		s.recordHandshake("connected")
		s.pushJoined(sc.ID)
	case <-time.After(timeout):
		s.recordHandshake("timed_out")
		s.disconnect(sc.ID, ErrConnectTimeout)
	case <-ctx.Done():
	}
}

// udpReadLoop is one UDP receive goroutine — one per socket opened by
// openUDPConns. Datagrams from an address already bound to a client are
// handed to the shared UDP mode for framing/routing; datagrams from an
// unbound address are tried as authentication datagrams, and silently
// dropped if they don't parse as one — duplicate or forged attempts are
// silently dropped.
func (s *Server) udpReadLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, s.profile.RecvBufferSizeUDP)
	for {
		n, peerAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		s.mu.RLock()
		clientID, mapped := s.addrToID[peerAddr.String()]
		s.mu.RUnlock()

		if mapped {
			s.dispatchUDP(clientID, datagram)
			continue
		}
		s.handleAuthDatagram(datagram, peerAddr)
	}
}

func (s *Server) dispatchUDP(clientID uint32, datagram []byte) {
	s.mu.RLock()
	sc, ok := s.clients[clientID]
	udpMode := s.udpSock
	s.mu.RUnlock()
	if !ok || udpMode == nil {
		return
	}
	packet, err := udpMode.Mode().DealWithData(clientID, datagram)
	if err != nil || packet == nil {
		s.stats.RecordDrop("mode_filtered")
		return
	}
	s.stats.RecordUDPRecv(packet.Used())
	sc.stats.RecordUDPRecv(packet.Used())
	if cb := sc.udpCallback.Load(); cb != nil {
		(*cb)(packet)
	} else if err := sc.udpQueue.Push(packet); err != nil {
		s.stats.RecordDrop("memory_limit")
		sc.stats.RecordDrop("memory_limit")
		s.logger.Warn("instance: client UDP receive queue memory limit exceeded, dropping packet", "client_id", sc.ID, "err", err)
	}
}

func (s *Server) handleAuthDatagram(datagram []byte, peerAddr *net.UDPAddr) {
	auth, err := DecodeAuthentication(datagram)
	if err != nil {
		return
	}
	s.mu.RLock()
	sc, ok := s.clients[auth.AssignedClient]
	s.mu.RUnlock()
	if !ok || sc.ConnectionStatus() != StatusConnectedAC {
		return // unknown, already-connected, or duplicate attempt: silently dropped
	}
	if sc.tokens != auth.Tokens {
		return // forged token: silently dropped
	}

	s.mu.Lock()
	sc.udpAddr = peerAddr
	s.addrToID[peerAddr.String()] = sc.ID
	s.mu.Unlock()

	// Handshake ack (server->client, TCP): an empty packet.
	_ = sc.tcpSock.Send(nil)
	sc.signalAuthenticated()
}

// handle routes TCP completions (the UDP path is handled directly by
// udpReadLoop/dispatchUDP, since the shared UDP socket must inspect
// unauthenticated datagrams before any client mapping exists).
func (s *Server) handle(_ context.Context, comp completion.Completion) {
	s.mu.RLock()
	var sc *ServerClient
	for _, c := range s.clients {
		if c.tcpSock != nil && c.tcpSock.Key == comp.Key {
			sc = c
			break
		}
	}
	s.mu.RUnlock()
	if sc == nil {
		return
	}

	if comp.Err != nil {
		s.disconnect(sc.ID, comp.Err)
		return
	}

	s.stats.RecordTCPRecv(comp.Buffer.Used())
	sc.stats.RecordTCPRecv(comp.Buffer.Used())
	if cb := sc.tcpCallback.Load(); cb != nil {
		(*cb)(comp.Buffer)
	} else if err := sc.tcpQueue.Push(comp.Buffer); err != nil {
		s.stats.RecordDrop("memory_limit")
		sc.stats.RecordDrop("memory_limit")
		s.logger.Warn("instance: client TCP receive queue memory limit exceeded, dropping packet", "client_id", sc.ID, "err", err)
	}
}

// SendTCP sends payload to one connected client over TCP.
func (s *Server) SendTCP(clientID uint32, payload []byte) error {
	sc, ok := s.client(clientID)
	if !ok {
		return ErrInvalidClientID
	}
	if err := sc.tcpSock.Send(payload); err != nil {
		return err
	}
	s.stats.RecordTCPSend(len(payload))
	sc.stats.RecordTCPSend(len(payload))
	return nil
}

// SendUDP sends payload to one connected client over UDP.
func (s *Server) SendUDP(clientID uint32, payload []byte) error {
	sc, ok := s.client(clientID)
	if !ok {
		return ErrInvalidClientID
	}
	if sc.udpAddr == nil || s.udpSock == nil {
		return ErrModeNotLoaded
	}
	if err := s.udpSock.SendTo(clientID, payload, sc.udpAddr); err != nil {
		return err
	}
	s.stats.RecordUDPSend(len(payload))
	sc.stats.RecordUDPSend(len(payload))
	return nil
}

// SendUDPOp sends payload to one connected client over UDP tagged with
// opID, routing it into that operation's slot in the installed UDP
// mode's per-client-per-operation packet store. Returns
// ErrInvalidOperationID if the installed mode doesn't support the
// operation-id axis.
func (s *Server) SendUDPOp(clientID, opID uint32, payload []byte) error {
	sc, ok := s.client(clientID)
	if !ok {
		return ErrInvalidClientID
	}
	if sc.udpAddr == nil || s.udpSock == nil {
		return ErrModeNotLoaded
	}
	opMode, ok := s.udpSock.Mode().(mode.OperationAddressable)
	if !ok {
		return ErrInvalidOperationID
	}
	framed := opMode.GetSendObjectOp(clientID, opID, payload)
	if err := s.udpSock.SendToFramed(framed, sc.udpAddr); err != nil {
		return err
	}
	s.stats.RecordUDPSend(len(payload))
	sc.stats.RecordUDPSend(len(payload))
	return nil
}

// SendAllTCP iterates every CONNECTED client, sending payload over TCP
// to each one except excludeClientID (pass an id not in use, e.g.
// maxClients, to exclude none).
func (s *Server) SendAllTCP(payload []byte, excludeClientID uint32) {
	for _, id := range s.ConnectedClientIDs() {
		if id == excludeClientID {
			continue
		}
		_ = s.SendTCP(id, payload)
	}
}

// SendAllUDP is SendAllTCP's UDP counterpart.
func (s *Server) SendAllUDP(payload []byte, excludeClientID uint32) {
	for _, id := range s.ConnectedClientIDs() {
		if id == excludeClientID {
			continue
		}
		_ = s.SendUDP(id, payload)
	}
}

func (s *Server) client(id uint32) (*ServerClient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.clients[id]
	return sc, ok
}

// ConnectedClientIDs returns the ids of every client currently in the
// CONNECTED state.
func (s *Server) ConnectedClientIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint32, 0, len(s.clients))
	for id, sc := range s.clients {
		if sc.ConnectionStatus() == StatusConnected {
			out = append(out, id)
		}
	}
	return out
}

// Stats returns a point-in-time snapshot of this server's aggregate
// traffic counters, summed across every client that has ever connected.
func (s *Server) Stats() Snapshot { return s.stats.Snapshot() }

// SetMetrics attaches reg so the server's own aggregate Stats also
// increments Prometheus counters; per-client Stats are left unattached
// to avoid a cardinality blow-up from per-client label values.
func (s *Server) SetMetrics(reg *metrics.Registry) {
	s.stats.SetMetrics(reg)
	s.metrics.Store(reg)
}

// QueueLen reports the number of completions currently queued awaiting
// a worker.
func (s *Server) QueueLen() int { return s.engine.QueueLen() }

func (s *Server) recordHandshake(outcome string) {
	if reg := s.metrics.Load(); reg != nil {
		reg.HandshakeOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ClientCount returns the number of client records currently tracked,
// regardless of handshake state.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Client returns the client record for id, if any.
func (s *Server) Client(id uint32) (*ServerClient, bool) { return s.client(id) }

// disconnect tears down one client record: closes its socket, releases
// its id and UDP address mapping, and pushes a left-queue event.
func (s *Server) disconnect(id uint32, reason error) {
	s.mu.Lock()
	sc, ok := s.clients[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, id)
	if sc.udpAddr != nil {
		delete(s.addrToID, sc.udpAddr.String())
	}
	s.mu.Unlock()

	sc.setStatus(StatusDisconnecting)
	_ = sc.tcpSock.Close()
	s.ids.Release(id)

	if s.udpSock != nil {
		s.udpSock.Mode().ResetClient(id)
	}

	s.mu.Lock()
	s.leftQueue = append(s.leftQueue, ClientLeftEvent{ClientID: id, Reason: reason})
	s.mu.Unlock()
}

// DisconnectClient is the public entry point for an application-driven
// disconnect (as opposed to one a worker discovered via a socket error).
func (s *Server) DisconnectClient(id uint32) { s.disconnect(id, nil) }

func (s *Server) pushJoined(id uint32) {
	s.mu.Lock()
	s.joinedQueue = append(s.joinedQueue, ClientJoinedEvent{ClientID: id})
	s.mu.Unlock()
}

// PullJoined pops the oldest pending client-joined event, or (zero,
// false) if the queue is empty.
func (s *Server) PullJoined() (ClientJoinedEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.joinedQueue) == 0 {
		return ClientJoinedEvent{}, false
	}
	e := s.joinedQueue[0]
	s.joinedQueue = s.joinedQueue[1:]
	return e, true
}

// PullLeft pops the oldest pending client-left event, or (zero, false)
// if the queue is empty.
func (s *Server) PullLeft() (ClientLeftEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.leftQueue) == 0 {
		return ClientLeftEvent{}, false
	}
	e := s.leftQueue[0]
	s.leftQueue = s.leftQueue[1:]
	return e, true
}

// Close stops the accept loop(s), closes every listener and UDP socket,
// and stops the completion engine.
func (s *Server) Close(ctx context.Context) error {
	if s.engineCancel != nil {
		s.engineCancel()
	}
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	for _, conn := range s.udpConns {
		_ = conn.Close()
	}
	if s.engine != nil {
		s.engine.Stop()
	}
	return nil
}

func randomTokens() [TokenCount]int32 {
	var out [TokenCount]int32
	var raw [4]byte
	for i := range out {
		_, _ = rand.Read(raw[:])
		out[i] = int32(binary.LittleEndian.Uint32(raw[:]))
	}
	return out
}

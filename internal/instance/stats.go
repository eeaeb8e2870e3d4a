package instance

import (
	"sync/atomic"

	"github.com/michael-pryor/MikeNet-sub001/internal/metrics"
)

// Stats collects per-instance traffic counters: bytes and packets sent
// and received over each transport, and packets dropped before
// delivery. Generalized from an atomic-counter-and-
// Snapshot pattern to the two transports and drop reasons this runtime
// has instead of DNS-specific response codes.
type Stats struct {
	tcpBytesSent     atomic.Uint64
	tcpBytesReceived atomic.Uint64
	tcpPacketsSent   atomic.Uint64
	tcpPacketsRecv   atomic.Uint64

	udpBytesSent     atomic.Uint64
	udpBytesReceived atomic.Uint64
	udpPacketsSent   atomic.Uint64
	udpPacketsRecv   atomic.Uint64

	packetsDropped atomic.Uint64

	reg atomic.Pointer[metrics.Registry]
}

// NewStats creates a zeroed Stats collector.
func NewStats() *Stats {
	return &Stats{}
}

// SetMetrics attaches a Registry so every subsequent Record* call also
// increments the matching Prometheus counter. Safe to call at most
// once, before the instance starts handling traffic.
func (s *Stats) SetMetrics(reg *metrics.Registry) {
	s.reg.Store(reg)
}

// RecordTCPSend accounts for one outbound TCP packet of n payload bytes.
func (s *Stats) RecordTCPSend(n int) {
	s.tcpPacketsSent.Add(1)
	s.tcpBytesSent.Add(uint64(n))
	if reg := s.reg.Load(); reg != nil {
		reg.PacketsSent.WithLabelValues("tcp").Inc()
	}
}

// RecordTCPRecv accounts for one inbound TCP packet of n payload bytes.
func (s *Stats) RecordTCPRecv(n int) {
	s.tcpPacketsRecv.Add(1)
	s.tcpBytesReceived.Add(uint64(n))
	if reg := s.reg.Load(); reg != nil {
		reg.PacketsReceived.WithLabelValues("tcp").Inc()
	}
}

// RecordUDPSend accounts for one outbound UDP datagram of n payload
// bytes.
func (s *Stats) RecordUDPSend(n int) {
	s.udpPacketsSent.Add(1)
	s.udpBytesSent.Add(uint64(n))
	if reg := s.reg.Load(); reg != nil {
		reg.PacketsSent.WithLabelValues("udp").Inc()
	}
}

// RecordUDPRecv accounts for one inbound UDP datagram of n payload
// bytes.
func (s *Stats) RecordUDPRecv(n int) {
	s.udpPacketsRecv.Add(1)
	s.udpBytesReceived.Add(uint64(n))
	if reg := s.reg.Load(); reg != nil {
		reg.PacketsReceived.WithLabelValues("udp").Inc()
	}
}

// RecordDrop accounts for one packet dropped before delivery, tagged
// with why (e.g. "mode_filtered", "memory_limit", "decrypt_failed").
func (s *Stats) RecordDrop(reason string) {
	s.packetsDropped.Add(1)
	if reg := s.reg.Load(); reg != nil {
		reg.PacketsDropped.WithLabelValues(reason).Inc()
	}
}

// Snapshot is a point-in-time read of every counter in Stats.
type Snapshot struct {
	TCPBytesSent     uint64
	TCPBytesReceived uint64
	TCPPacketsSent   uint64
	TCPPacketsRecv   uint64

	UDPBytesSent     uint64
	UDPBytesReceived uint64
	UDPPacketsSent   uint64
	UDPPacketsRecv   uint64

	PacketsDropped uint64
}

// Snapshot returns the current value of every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TCPBytesSent:     s.tcpBytesSent.Load(),
		TCPBytesReceived: s.tcpBytesReceived.Load(),
		TCPPacketsSent:   s.tcpPacketsSent.Load(),
		TCPPacketsRecv:   s.tcpPacketsRecv.Load(),
		UDPBytesSent:     s.udpBytesSent.Load(),
		UDPBytesReceived: s.udpBytesReceived.Load(),
		UDPPacketsSent:   s.udpPacketsSent.Load(),
		UDPPacketsRecv:   s.udpPacketsRecv.Load(),
		PacketsDropped:   s.packetsDropped.Load(),
	}
}

// Package mode implements the framing strategies layered over a raw TCP
// byte stream or a sequence of UDP datagrams: turning a stream or a
// datagram flow into discrete application packets, and vice versa on
// send. Each mode is a leaf type satisfying a small interface — there is
// no inheritance graph, matching the tagged-variant design the runtime
// uses for its mode polymorphism.
package mode

import "errors"

var (
	// ErrTcpReceiveBufferTooSmall is returned when a TCP mode's partial
	// buffer would overflow its ceiling and auto-resize is disabled.
	ErrTcpReceiveBufferTooSmall = errors.New("mode: tcp receive buffer too small")
	// ErrNotMeaningful is returned by PartialPercentage on modes for
	// which the concept has no definition (delimiter, raw).
	ErrNotMeaningful = errors.New("mode: partial percentage not meaningful for this mode")
	// ErrUdpDecryptFailed is returned when an inbound UDP_PER_CLIENT*
	// datagram fails AES decryption.
	ErrUdpDecryptFailed = errors.New("mode: udp decrypt failed")
	// ErrUnexpectedHandshakePacket is returned when a datagram cannot be
	// data for the mode: a counter-0 (handshake/authentication)
	// datagram, one shorter than the mode's header, or (per-operation
	// mode) one whose operation id is outside the configured range.
	ErrUnexpectedHandshakePacket = errors.New("mode: unexpected handshake packet")
)

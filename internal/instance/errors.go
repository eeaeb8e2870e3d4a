package instance

import "errors"

// Sentinel errors for the instance layer's usage and network error
// classes. Protocol and resource errors are returned
// directly from the wire/memacct/mode packages they originate in and
// propagate unwrapped through here.
var (
	// ErrUnexpectedHandshakePacket is returned when a handshake datagram
	// or packet arrives with the wrong marker or out of sequence.
	ErrUnexpectedHandshakePacket = errors.New("instance: unexpected handshake packet")
	// ErrConnectRefused names a TCP connect refused by the peer. The
	// handshake reports a refused dial as PollRefused and does not
	// return this error.
	ErrConnectRefused = errors.New("instance: connect refused")
	// ErrConnectTimeout is reported when the handshake's overall
	// deadline elapses before CONNECTED is reached.
	ErrConnectTimeout = errors.New("instance: connect timeout")
	// ErrSendTimeout names a send that waited past a deadline. Sends in
	// this package write synchronously with no deadline and never
	// return it.
	ErrSendTimeout = errors.New("instance: send timeout")
	// ErrAborted names a blocking wait cut short by cancellation rather
	// than by the condition it was waiting for. Nothing in this package
	// returns it.
	ErrAborted = errors.New("instance: aborted")
	// ErrClosed is returned by operations attempted against an instance
	// or client record that has already torn down.
	ErrClosed = errors.New("instance: closed")
	// ErrInvalidClientID is returned when a caller names a client-id not
	// currently in the server's connected set.
	ErrInvalidClientID = errors.New("instance: invalid client id")
	// ErrInvalidOperationID is returned when a caller names an
	// operation-id outside a per-client-per-operation mode's configured
	// range.
	ErrInvalidOperationID = errors.New("instance: invalid operation id")
	// ErrModeNotLoaded is returned by a UDP operation attempted before
	// the UDP mode has been installed (client side: before the welcome
	// packet is parsed).
	ErrModeNotLoaded = errors.New("instance: mode not loaded")
	// ErrServerFull names the state where every client-id slot is
	// already in use. The accept path does not return it: it logs,
	// records a "rejected_full" handshake outcome and closes the
	// connection.
	ErrServerFull = errors.New("instance: server full, no client ids available")
)

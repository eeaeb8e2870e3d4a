// Package instance implements the three user-facing entities the
// runtime exposes — client, server, and broadcast — each composing a
// socket, a completion engine, and (for client/server) the handshake
// protocol that binds a TCP control connection to a UDP data connection
// under one client-id.
package instance

// ConnectionStatus is the lifecycle state of a client instance or a
// server-side client record, observable via ClientConnected/poll.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnectedAC // TCP accepted, awaiting UDP authentication (server side)
	StatusConnected
	StatusDisconnecting
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnectedAC:
		return "CONNECTED_AC"
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// PollResult is returned by a client instance's PollConnect.
type PollResult int32

const (
	PollStillConnecting PollResult = iota
	PollConnected
	PollRefused
	PollTimedOut
	PollConnectionError
)

func (p PollResult) String() string {
	switch p {
	case PollStillConnecting:
		return "STILL_CONNECTING"
	case PollConnected:
		return "CONNECTED"
	case PollRefused:
		return "REFUSED"
	case PollTimedOut:
		return "TIMED_OUT"
	case PollConnectionError:
		return "CONNECTION_ERROR"
	default:
		return "UNKNOWN"
	}
}

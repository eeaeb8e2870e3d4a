package instance

import (
	"github.com/michael-pryor/MikeNet-sub001/internal/config"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// TokenCount is the fixed strength constant K: the number of int32
// authentication tokens carried in the welcome and authentication
// packets.
const TokenCount = 4

// udpModeDiscriminant is the single byte identifying a UDPModeKind on
// the wire, independent of the Go-side string constants in package
// config so the wire format never changes shape if those are renamed.
func udpModeDiscriminant(k config.UDPModeKind) uint8 {
	switch k {
	case config.UDPModeCatchAll:
		return 0
	case config.UDPModeCatchAllNo:
		return 1
	case config.UDPModePerClient:
		return 2
	case config.UDPModePerClientPerOperation:
		return 3
	default:
		return 0
	}
}

func udpModeFromDiscriminant(d uint8) config.UDPModeKind {
	switch d {
	case 0:
		return config.UDPModeCatchAll
	case 1:
		return config.UDPModeCatchAllNo
	case 2:
		return config.UDPModePerClient
	case 3:
		return config.UDPModePerClientPerOperation
	default:
		return config.UDPModeCatchAll
	}
}

// Welcome is the server->client handshake packet: everything the client
// needs to install its UDP mode and identify itself.
type Welcome struct {
	MaxClients     uint32
	NumOperations  uint32
	UDPModeDiscrim uint8
	AssignedClient uint32
	Tokens         [TokenCount]int32
	UDPEnabled     bool
}

// EncodeWelcome serializes w per the wire layout:
// [size-prefix max_clients][size-prefix num_operations][uint8
// udp_mode_discriminant][size-prefix assigned_client_id][int32
// tokens[K]]. num_operations and udp_mode_discriminant are omitted when
// UDP is disabled for this instance.
func EncodeWelcome(w Welcome) *wire.Buffer {
	buf := wire.NewBuffer(0)
	buf.AppendUint32LE(w.MaxClients)
	if w.UDPEnabled {
		buf.AppendUint32LE(w.NumOperations)
		buf.AppendUint8(w.UDPModeDiscrim)
	}
	buf.AppendUint32LE(w.AssignedClient)
	for _, tok := range w.Tokens {
		buf.AppendInt32LE(tok)
	}
	return buf
}

// DecodeWelcome parses a Welcome from buf starting at its current
// cursor. udpEnabled must match what the receiving instance's own
// profile expects, since the presence of the operations/mode fields is
// not self-describing on the wire.
func DecodeWelcome(buf *wire.Buffer, udpEnabled bool) (Welcome, error) {
	var w Welcome
	w.UDPEnabled = udpEnabled

	maxClients, err := buf.ReadUint32LE()
	if err != nil {
		return w, err
	}
	w.MaxClients = maxClients

	if udpEnabled {
		numOps, err := buf.ReadUint32LE()
		if err != nil {
			return w, err
		}
		w.NumOperations = numOps

		discrim, err := buf.ReadUint8()
		if err != nil {
			return w, err
		}
		w.UDPModeDiscrim = discrim
	}

	assigned, err := buf.ReadUint32LE()
	if err != nil {
		return w, err
	}
	w.AssignedClient = assigned

	for i := range w.Tokens {
		tok, err := buf.ReadInt32LE()
		if err != nil {
			return w, err
		}
		w.Tokens[i] = tok
	}
	return w, nil
}

// UDPMode returns the config.UDPModeKind this welcome's discriminant
// names.
func (w Welcome) UDPMode() config.UDPModeKind {
	return udpModeFromDiscriminant(w.UDPModeDiscrim)
}

// Authentication is the client->server UDP datagram sent repeatedly
// during handshake until the server's TCP ack arrives.
type Authentication struct {
	AssignedClient uint32
	Tokens         [TokenCount]int32
}

// authMarker is the size-prefix 0 leading every authentication
// datagram, distinguishing it from ordinary UDP_CATCH_ALL_NO traffic
// (counter 0 is likewise reserved there).
const authMarker = 0

// EncodeAuthentication serializes: [size-prefix
// 0][size-prefix assigned_client_id][int32 tokens[K]].
func EncodeAuthentication(a Authentication) []byte {
	buf := wire.NewBuffer(0)
	buf.AppendUint32LE(authMarker)
	buf.AppendUint32LE(a.AssignedClient)
	for _, tok := range a.Tokens {
		buf.AppendInt32LE(tok)
	}
	return buf.Snapshot()
}

// DecodeAuthentication parses an authentication datagram, returning
// ErrUnexpectedHandshakePacket if the leading marker is not 0.
func DecodeAuthentication(datagram []byte) (Authentication, error) {
	buf := wire.NewBufferFromBytes(datagram)
	var a Authentication

	marker, err := buf.ReadUint32LE()
	if err != nil {
		return a, err
	}
	if marker != authMarker {
		return a, ErrUnexpectedHandshakePacket
	}
	assigned, err := buf.ReadUint32LE()
	if err != nil {
		return a, err
	}
	a.AssignedClient = assigned
	for i := range a.Tokens {
		tok, err := buf.ReadInt32LE()
		if err != nil {
			return a, err
		}
		a.Tokens[i] = tok
	}
	return a, nil
}

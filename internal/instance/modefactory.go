package instance

import (
	"encoding/hex"

	"github.com/michael-pryor/MikeNet-sub001/internal/config"
	"github.com/michael-pryor/MikeNet-sub001/internal/cryptoutil"
	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/mode"
)

// newTCPMode builds the TCPMode profile.ModeTCP names, wired to the
// given partial-buffer ceiling, auto-resize flag, postfix, and packet
// recycler.
func newTCPMode(p config.InstanceProfile, recycler *memacct.Recycler) mode.TCPMode {
	switch p.ModeTCP {
	case config.TCPModeDelimiter:
		return mode.NewDelimiterMode([]byte(p.PostfixTCP), p.RecvMemoryLimitTCP, p.AutoResizeTCP, recycler)
	case config.TCPModeRaw:
		return mode.NewRawMode(recycler)
	default:
		return mode.NewLengthPrefixMode(p.RecvMemoryLimitTCP, p.AutoResizeTCP, recycler)
	}
}

// newUDPMode builds the UDPMode kind names, wired to the per-client
// receive-memory ceiling, the operation count (per-operation mode
// only), and an optional AES decrypt function built from
// p.DecryptKeyUDP.
func newUDPMode(kind config.UDPModeKind, p config.InstanceProfile) (mode.UDPMode, error) {
	decrypt, err := decryptFuncFor(p)
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.UDPModeCatchAllNo:
		return mode.NewCatchAllNoMode(p.RecvMemoryLimitUDP), nil
	case config.UDPModePerClient:
		return mode.NewPerClientMode(p.RecvMemoryLimitUDP, decrypt), nil
	case config.UDPModePerClientPerOperation:
		numOps := p.NumOperations
		if numOps <= 0 {
			numOps = 1
		}
		return mode.NewPerClientPerOperationMode(p.RecvMemoryLimitUDP, numOps, decrypt), nil
	default:
		return mode.NewCatchAllMode(p.RecvMemoryLimitUDP), nil
	}
}

// decryptFuncFor builds the optional inbound-decrypt closure
// UDP_PER_CLIENT* modes apply before framing, from a hex-encoded AES key
// in the profile. An empty key disables decryption (nil return).
func decryptFuncFor(p config.InstanceProfile) (func([]byte) ([]byte, error), error) {
	if p.DecryptKeyUDP == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(p.DecryptKeyUDP)
	if err != nil {
		return nil, err
	}
	cipher, err := cryptoutil.NewStripedCipher(key, 1)
	if err != nil {
		return nil, err
	}
	// AES-CTR is its own inverse, so the same Transform call both
	// encrypts and decrypts; a zero IV is used here because the
	// datagram itself carries no IV field on the wire, so every datagram
	// is encrypted under a fixed keystream offset; key management and
	// IV negotiation are left to whatever external collaborator supplies
	// the key hex string.
	var iv [16]byte
	return func(payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		if err := cipher.Transform(iv[:], out, payload); err != nil {
			return nil, err
		}
		return out, nil
	}, nil
}

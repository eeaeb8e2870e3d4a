package wire

import (
	"fmt"
	"net/netip"
	"sync"
)

// Address is the value type (ip, port) pair used throughout netcore to
// name an endpoint. Equality is by (ip, port); the zero value is the
// "unspecified" sentinel. It is safe for concurrent reads; Set/Clear take
// a write lock because a handshake-bound socket's address is mutated
// after construction (the source address learned from the first UDP
// authentication datagram, for example).
type Address struct {
	mu   sync.RWMutex
	ip   netip.Addr
	port uint16
}

// NewAddress constructs an Address from a parsed IP and a port.
func NewAddress(ip netip.Addr, port uint16) Address {
	return Address{ip: ip, port: port}
}

// ParseAddress parses a textual IP (v4 or v6) and attaches the given port.
func ParseAddress(host string, port uint16) (Address, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Address{}, fmt.Errorf("wire: parse address %q: %w", host, err)
	}
	return Address{ip: ip, port: port}, nil
}

// IP returns the address's IP component.
func (a *Address) IP() netip.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ip
}

// Port returns the address's port component.
func (a *Address) Port() uint16 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.port
}

// Set overwrites the address in place. Used when a socket's peer address
// is learned asynchronously (e.g. UDP source address bound during the
// handshake's authentication step).
func (a *Address) Set(ip netip.Addr, port uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ip = ip
	a.port = port
}

// Clear resets the address to the unspecified sentinel.
func (a *Address) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ip = netip.Addr{}
	a.port = 0
}

// IsUnspecified reports whether the address is the zero/cleared sentinel.
func (a *Address) IsUnspecified() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.ip.IsValid() && a.port == 0
}

// Equal compares two addresses by (ip, port).
func (a *Address) Equal(other *Address) bool {
	a.mu.RLock()
	ip, port := a.ip, a.port
	a.mu.RUnlock()

	other.mu.RLock()
	oip, oport := other.ip, other.port
	other.mu.RUnlock()

	return ip == oip && port == oport
}

// String renders the address as "ip:port", or "<unspecified>" when cleared.
func (a *Address) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.ip.IsValid() && a.port == 0 {
		return "<unspecified>"
	}
	return netip.AddrPortFrom(a.ip, a.port).String()
}

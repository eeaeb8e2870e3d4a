package wire

import (
	"fmt"
	"net"
	"net/netip"
)

// LocalAddresses enumerates the non-loopback IP addresses bound to the
// host's network interfaces, supplementing the core's address primitive
// with the local-interface enumeration a server instance needs to pick a
// default bind address when none is configured. Generalized from the
// original runtime's NAT/UPnP helper's interface walk, minus the
// any NAT or port-mapping logic itself, which stays out of scope here.
func LocalAddresses() ([]netip.Addr, error) {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("wire: enumerate local addresses: %w", err)
	}

	var out []netip.Addr
	for _, ifa := range ifaces {
		ipNet, ok := ifa.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.IsLoopback() || !addr.IsValid() {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

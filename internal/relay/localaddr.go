package relay

import (
	"fmt"
	"net"
	"net/netip"
)

// LocalAddresses returns every IPv4 unicast address on interfaces that are
// up.
func LocalAddresses() (*AddressSet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var addrs []netip.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifAddrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if addr, ok := netip.AddrFromSlice(ipnet.IP.To4()); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	return NewAddressSet(addrs...), nil
}

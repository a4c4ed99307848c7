package relay

import (
	"fmt"
	"net/netip"
	"slices"

	"firestige.xyz/bcrelay/internal/core"
	"firestige.xyz/bcrelay/internal/packet"
)

// AddressSet is an immutable set of IPv4 addresses. A nil *AddressSet is
// "absent", which is not the same thing as an empty set.
type AddressSet struct {
	addrs map[netip.Addr]struct{}
}

// NewAddressSet builds a set from addrs. IPv4-mapped IPv6 addresses are
// unmapped; other non-IPv4 addresses are ignored.
func NewAddressSet(addrs ...netip.Addr) *AddressSet {
	s := &AddressSet{addrs: make(map[netip.Addr]struct{}, len(addrs))}
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is4() {
			s.addrs[a] = struct{}{}
		}
	}
	return s
}

// ParseAddressSet parses dotted-quad addresses.
func ParseAddressSet(addrs []string) (*AddressSet, error) {
	parsed := make([]netip.Addr, 0, len(addrs))
	for _, s := range addrs {
		a, err := ParseIPv4(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, a)
	}
	return NewAddressSet(parsed...), nil
}

// ParseIPv4 parses s as an IPv4 address.
func ParseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%q: %w", s, core.ErrInvalidAddress)
	}
	a = a.Unmap()
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%q: %w", s, core.ErrInvalidAddress)
	}
	return a, nil
}

// Contains reports whether a is in the set.
func (s *AddressSet) Contains(a netip.Addr) bool {
	if s == nil {
		return false
	}
	_, ok := s.addrs[a.Unmap()]
	return ok
}

// Len returns the number of addresses.
func (s *AddressSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.addrs)
}

// Slice returns the addresses in ascending order.
func (s *AddressSet) Slice() []netip.Addr {
	if s == nil {
		return nil
	}
	out := make([]netip.Addr, 0, len(s.addrs))
	for a := range s.addrs {
		out = append(out, a)
	}
	slices.SortFunc(out, netip.Addr.Compare)
	return out
}

// IsLocalBroadcast reports whether p is a UDP datagram over IPv4, sent to an
// address whose last octet is 255, from one of the local addresses.
func IsLocalBroadcast(p *packet.Packet, local *AddressSet) bool {
	if p == nil || p.UDP() == nil || p.IPv4() == nil {
		return false
	}
	dst, ok := p.Destination()
	if !ok || dst.As4()[3] != 255 {
		return false
	}
	src, ok := p.Source()
	return ok && local.Contains(src)
}

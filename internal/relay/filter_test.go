package relay

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bcrelay/internal/core"
	"firestige.xyz/bcrelay/internal/packet"
	"firestige.xyz/bcrelay/internal/packet/packettest"
)

func parse(t *testing.T, data []byte) *packet.Packet {
	t.Helper()
	p, err := packet.Parse(data, layers.LinkTypeEthernet)
	require.NoError(t, err)
	return p
}

func TestIsLocalBroadcast(t *testing.T) {
	local := NewAddressSet(netip.MustParseAddr("192.168.1.2"), netip.MustParseAddr("10.0.0.7"))

	tests := []struct {
		name string
		src  string
		dst  string
		want bool
	}{
		{"subnet broadcast", "192.168.1.2", "192.168.1.255", true},
		{"limited broadcast", "192.168.1.2", "255.255.255.255", true},
		{"other local address", "10.0.0.7", "10.0.0.255", true},
		{"broadcast-shaped unicast", "192.168.1.2", "172.16.0.255", true},
		{"unicast destination", "192.168.1.2", "192.168.1.254", false},
		{"non-local source", "192.168.1.3", "192.168.1.255", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parse(t, packettest.UDPFrame{Src: tt.src, Dst: tt.dst, SrcPort: 1, DstPort: 2}.Ethernet())
			assert.Equal(t, tt.want, IsLocalBroadcast(p, local))
		})
	}
}

func TestIsLocalBroadcast_MissingLayers(t *testing.T) {
	local := NewAddressSet(netip.MustParseAddr("192.168.1.2"))

	tcp := parse(t, packettest.TCP("192.168.1.2", "192.168.1.255"))
	assert.False(t, IsLocalBroadcast(tcp, local))

	arp := parse(t, packettest.ARP("192.168.1.2"))
	assert.False(t, IsLocalBroadcast(arp, local))

	assert.False(t, IsLocalBroadcast(nil, local))
}

func TestIsLocalBroadcast_EmptySet(t *testing.T) {
	p := parse(t, packettest.UDPFrame{Src: "192.168.1.2", Dst: "192.168.1.255"}.Ethernet())

	assert.False(t, IsLocalBroadcast(p, NewAddressSet()))
	assert.False(t, IsLocalBroadcast(p, nil))
}

func TestAddressSet(t *testing.T) {
	s := NewAddressSet(
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("::ffff:10.0.0.1"),
		netip.MustParseAddr("fe80::1"),
	)

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(netip.MustParseAddr("10.0.0.1")))
	assert.False(t, s.Contains(netip.MustParseAddr("fe80::1")))
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
	}, s.Slice())
}

func TestParseAddressSet(t *testing.T) {
	s, err := ParseAddressSet([]string{"192.168.1.2", "192.168.1.2"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	_, err = ParseAddressSet([]string{"192.168.1.300"})
	assert.ErrorIs(t, err, core.ErrInvalidAddress)

	_, err = ParseAddressSet([]string{"2001:db8::1"})
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
}

func TestLocalAddresses(t *testing.T) {
	s, err := LocalAddresses()
	require.NoError(t, err)
	for _, a := range s.Slice() {
		assert.True(t, a.Is4())
	}
}

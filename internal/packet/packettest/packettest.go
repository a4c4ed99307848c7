// Package packettest builds wire-format frames for tests.
package packettest

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// UDPFrame describes an Ethernet/IPv4/UDP frame.
type UDPFrame struct {
	Src     string
	Dst     string
	SrcPort uint16
	DstPort uint16
	TTL     uint8
	Payload []byte
}

// Ethernet serializes f as an Ethernet II frame. It panics on malformed
// addresses, which is only ever a test bug.
func (f UDPFrame) Ethernet() []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	return serialize(eth, f.layers()...)
}

// Dot1Q serializes f as an Ethernet frame carrying an 802.1Q tag for vlan.
func (f UDPFrame) Dot1Q(vlan uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeDot1Q,
	}
	tag := &layers.Dot1Q{VLANIdentifier: vlan, Type: layers.EthernetTypeIPv4}
	return serialize(eth, append([]gopacket.SerializableLayer{tag}, f.layers()...)...)
}

// IPv4 serializes f without a link-layer header.
func (f UDPFrame) IPv4() []byte {
	return serialize(nil, f.layers()...)
}

func (f UDPFrame) layers() []gopacket.SerializableLayer {
	ttl := f.TTL
	if ttl == 0 {
		ttl = 64
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      ttl,
		Id:       0x1234,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    ip4(f.Src),
		DstIP:    ip4(f.Dst),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(f.SrcPort),
		DstPort: layers.UDPPort(f.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	payload := f.Payload
	if payload == nil {
		payload = []byte("discover")
	}
	return []gopacket.SerializableLayer{ip, udp, gopacket.Payload(payload)}
}

// ARP serializes a broadcast ARP request, a frame with no IPv4 layer.
func ARP(src string) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(eth.SrcMAC),
		SourceProtAddress: []byte(ip4(src)),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{192, 168, 1, 255},
	}
	return serialize(eth, arp)
}

// TCP serializes an Ethernet/IPv4/TCP frame between src and dst.
func TCP(src, dst string) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    ip4(src),
		DstIP:    ip4(dst),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return serialize(eth, ip, tcp)
}

func serialize(first gopacket.SerializableLayer, rest ...gopacket.SerializableLayer) []byte {
	stack := rest
	if first != nil {
		stack = append([]gopacket.SerializableLayer{first}, rest...)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func ip4(s string) net.IP {
	addr := netip.MustParseAddr(s)
	b := addr.As4()
	return net.IP(b[:])
}

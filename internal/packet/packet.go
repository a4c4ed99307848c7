// Package packet implements the layered packet model used by the relay:
// parse a captured frame, look up layers, mutate header fields, recompute
// lengths and checksums, and re-serialize to wire bytes.
package packet

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/bcrelay/internal/core"
)

var serializeOpts = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Packet is a decoded frame. It is not safe for concurrent use; one Packet
// belongs to the goroutine processing the frame it was parsed from.
type Packet struct {
	first gopacket.LayerType
	pkt   gopacket.Packet
	dirty bool
}

// Parse decodes data. Ethernet frames are decoded from the link layer, every
// other link type is decoded starting at IPv4.
func Parse(data []byte, linkType layers.LinkType) (*Packet, error) {
	first := layers.LayerTypeIPv4
	if linkType == layers.LinkTypeEthernet {
		first = layers.LayerTypeEthernet
	}
	return decode(data, first)
}

func decode(data []byte, first gopacket.LayerType) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame: %w", core.ErrPacketUndecodable)
	}
	pkt := gopacket.NewPacket(data, first, gopacket.Default)
	if len(pkt.Layers()) == 0 {
		return nil, core.ErrPacketUndecodable
	}
	// An application payload that fails to decode past a complete UDP layer
	// still leaves a usable datagram.
	if errLayer := pkt.ErrorLayer(); errLayer != nil && pkt.Layer(layers.LayerTypeUDP) == nil {
		return nil, fmt.Errorf("%v: %w", errLayer.Error(), core.ErrPacketUndecodable)
	}
	return &Packet{first: first, pkt: pkt}, nil
}

// Layer returns the first layer of type t, or nil.
func (p *Packet) Layer(t gopacket.LayerType) gopacket.Layer {
	return p.pkt.Layer(t)
}

// Layers returns every decoded layer, outermost first.
func (p *Packet) Layers() []gopacket.Layer {
	return p.pkt.Layers()
}

// IPv4 returns the first IPv4 layer, or nil.
func (p *Packet) IPv4() *layers.IPv4 {
	if l, ok := p.pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		return l
	}
	return nil
}

// UDP returns the first UDP layer, or nil.
func (p *Packet) UDP() *layers.UDP {
	if l, ok := p.pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		return l
	}
	return nil
}

// Source returns the IPv4 source address, if the packet carries IPv4.
func (p *Packet) Source() (netip.Addr, bool) {
	ip := p.IPv4()
	if ip == nil {
		return netip.Addr{}, false
	}
	return addrOf(ip.SrcIP)
}

// Destination returns the IPv4 destination address, if the packet carries IPv4.
func (p *Packet) Destination() (netip.Addr, bool) {
	ip := p.IPv4()
	if ip == nil {
		return netip.Addr{}, false
	}
	return addrOf(ip.DstIP)
}

// SetDestination rewrites the IPv4 destination. CorrectFields must run before
// the bytes are used again; Datagram and Bytes do that implicitly.
func (p *Packet) SetDestination(dst netip.Addr) error {
	if !dst.Is4() {
		return fmt.Errorf("destination %s: %w", dst, core.ErrInvalidAddress)
	}
	ip := p.IPv4()
	if ip == nil {
		return core.ErrNotIPv4UDP
	}
	b := dst.As4()
	ip.DstIP = net.IP(b[:])
	p.dirty = true
	return nil
}

// CorrectFields recomputes IPv4 header length, total length and checksum and
// the UDP length and checksum, then re-decodes so every layer reflects the
// serialized bytes. Link-layer headers ahead of IPv4, VLAN tags included, are
// written back unchanged. If the new bytes no longer decode to IPv4/UDP the
// packet is left as it was.
func (p *Packet) CorrectFields() error {
	ip, udp := p.IPv4(), p.UDP()
	if ip == nil || udp == nil {
		return core.ErrNotIPv4UDP
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return fmt.Errorf("set checksum layer: %w", err)
	}

	stack := make([]gopacket.SerializableLayer, 0, 5)
	for _, l := range p.pkt.Layers() {
		if l.LayerType() == layers.LayerTypeIPv4 {
			break
		}
		sl, ok := l.(gopacket.SerializableLayer)
		if !ok {
			return fmt.Errorf("layer %s not serializable: %w", l.LayerType(), core.ErrPacketUndecodable)
		}
		stack = append(stack, sl)
	}
	stack = append(stack, ip, udp, gopacket.Payload(udp.Payload))

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, stack...); err != nil {
		return fmt.Errorf("serialize: %w", err)
	}

	fresh, err := decode(buf.Bytes(), p.first)
	if err != nil {
		return err
	}
	if fresh.IPv4() == nil || fresh.UDP() == nil {
		return fmt.Errorf("re-decode lost ipv4/udp: %w", core.ErrPacketUndecodable)
	}
	p.pkt = fresh.pkt
	p.dirty = false
	return nil
}

// Datagram returns the IPv4 datagram (IPv4 header through UDP payload).
func (p *Packet) Datagram() ([]byte, error) {
	if p.dirty {
		if err := p.CorrectFields(); err != nil {
			return nil, err
		}
	}
	ip := p.IPv4()
	if ip == nil || p.UDP() == nil {
		return nil, core.ErrNotIPv4UDP
	}
	out := make([]byte, 0, len(ip.Contents)+len(ip.Payload))
	out = append(out, ip.Contents...)
	return append(out, ip.Payload...), nil
}

// Bytes returns the whole frame as it would appear on the wire.
func (p *Packet) Bytes() ([]byte, error) {
	if p.dirty {
		if err := p.CorrectFields(); err != nil {
			return nil, err
		}
	}
	return p.pkt.Data(), nil
}

func addrOf(ip net.IP) (netip.Addr, bool) {
	addr, ok := netip.AddrFromSlice(ip.To4())
	if !ok {
		return netip.Addr{}, false
	}
	return addr, true
}

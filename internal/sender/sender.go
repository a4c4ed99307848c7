// Package sender transmits finalized IPv4/UDP datagrams with the header
// exactly as given.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"firestige.xyz/bcrelay/internal/core"
)

// Sender transmits one datagram synchronously. It does not retry.
type Sender interface {
	Send(datagram []byte) error
}

// Options configures a RawSender.
type Options struct {
	// Interface binds the socket to a single interface. Empty means the
	// routing table decides.
	Interface string `mapstructure:"interface"`
}

// RawSender writes datagrams on a raw IPv4 socket with IP_HDRINCL set, so
// the kernel does not generate or rewrite the header.
type RawSender struct {
	opts Options

	mu     sync.Mutex
	raw    *ipv4.RawConn
	closed bool
}

// NewRawSender opens the raw socket. It needs CAP_NET_RAW.
func NewRawSender(opts Options) (*RawSender, error) {
	lc := net.ListenConfig{Control: bindControl(opts.Interface)}
	pc, err := lc.ListenPacket(context.Background(), "ip4:udp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("open raw socket: %w", err)
	}
	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("enable header inclusion: %w", err)
	}

	slog.Info("raw sender ready", "interface", opts.Interface)
	return &RawSender{opts: opts, raw: raw}, nil
}

// Send writes datagram verbatim. datagram must start with the IPv4 header.
func (s *RawSender) Send(datagram []byte) error {
	h, payload, err := splitDatagram(datagram)
	if err != nil {
		return err
	}

	s.mu.Lock()
	raw, closed := s.raw, s.closed
	s.mu.Unlock()
	if closed {
		return net.ErrClosed
	}

	if err := raw.WriteTo(h, payload, nil); err != nil {
		return fmt.Errorf("send to %s: %w", h.Dst, err)
	}
	return nil
}

// Close releases the socket. Closing twice is a no-op.
func (s *RawSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.raw.Close()
}

// splitDatagram parses the header of an IPv4/UDP datagram and returns it with
// the bytes that follow it.
func splitDatagram(b []byte) (*ipv4.Header, []byte, error) {
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", core.ErrNotIPv4UDP, err)
	}
	if h.Version != ipv4.Version {
		return nil, nil, fmt.Errorf("version %d: %w", h.Version, core.ErrNotIPv4UDP)
	}
	if h.Protocol != 17 {
		return nil, nil, fmt.Errorf("protocol %d: %w", h.Protocol, core.ErrNotIPv4UDP)
	}
	end := len(b)
	if h.TotalLen > 0 && h.TotalLen < end {
		end = h.TotalLen
	}
	if end < h.Len+8 {
		return nil, nil, fmt.Errorf("truncated udp header: %w", core.ErrNotIPv4UDP)
	}
	return h, b[h.Len:end], nil
}

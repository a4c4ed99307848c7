//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/bcrelay/internal/core"
)

// AFPacketDevice captures through a TPACKET_V3 memory-mapped ring.
type AFPacketDevice struct {
	name string
	opts AFPacketOptions
	hub  Hub
	pump *pump

	mu     sync.Mutex
	handle *afpacket.TPacket
}

// NewAFPacketDevice returns an unopened AF_PACKET device for interface name.
func NewAFPacketDevice(name string, opts AFPacketOptions) (Device, error) {
	opts = opts.withDefaults()
	d := &AFPacketDevice{name: name, opts: opts}
	d.pump = newPump(name, &d.hub, func(err error) bool {
		return errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll)
	})
	return d, nil
}

// Name returns the interface name.
func (d *AFPacketDevice) Name() string { return d.name }

// Open creates the ring and applies the BPF filter.
func (d *AFPacketDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		return nil
	}

	frameSize, blockSize, numBlocks, err := recomputeSize(d.opts.BufferSizeMB, d.opts.SnapLen, os.Getpagesize())
	if err != nil {
		return fmt.Errorf("size ring for %s: %w", d.name, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(d.name),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(d.opts.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.name, err)
	}

	if d.opts.BPFFilter != "" {
		if err := applyBPFFilter(tp, d.opts.SnapLen, d.opts.BPFFilter); err != nil {
			tp.Close()
			return fmt.Errorf("apply bpf filter on %s: %w", d.name, err)
		}
	}
	if err := tp.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "device", d.name, "error", err)
	}
	d.handle = tp

	slog.Info("afpacket device opened",
		"device", d.name,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks,
		"bpf_filter", d.opts.BPFFilter)
	return nil
}

// StartCapture starts the delivery goroutine.
func (d *AFPacketDevice) StartCapture() error {
	d.mu.Lock()
	handle := d.handle
	d.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("start capture on %s: %w", d.name, core.ErrDeviceClosed)
	}
	// Zero-copy frames are only valid until the next read, which is exactly
	// the lifetime of a delivered core.Frame.
	d.pump.start(handle.ZeroCopyReadPacketData, layers.LinkTypeEthernet)
	return nil
}

// StopCapture stops the delivery goroutine. The ring stays mapped until
// Close, so no read can touch unmapped memory.
func (d *AFPacketDevice) StopCapture() error {
	d.pump.halt()
	return nil
}

// Close stops capture and unmaps the ring.
func (d *AFPacketDevice) Close() error {
	d.pump.halt()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return nil
	}
	d.handle.Close()
	d.handle = nil
	slog.Info("afpacket device closed", "device", d.name)
	return nil
}

// Subscribe registers fn for every captured frame.
func (d *AFPacketDevice) Subscribe(fn FrameHandler) Subscription {
	return d.hub.Subscribe(fn)
}

// LinkType is always Ethernet for SOCK_RAW AF_PACKET sockets.
func (d *AFPacketDevice) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

// Stats reports frames delivered and kernel drops.
func (d *AFPacketDevice) Stats() Stats {
	s := Stats{PacketsReceived: d.pump.received.Load()}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		if stats, _, err := d.handle.SocketStats(); err == nil {
			s.PacketsDropped = uint64(stats.Drops())
		}
	}
	return s
}

// applyBPFFilter compiles filter with libpcap and installs it on the ring.
func applyBPFFilter(tp *afpacket.TPacket, snapLen int, filter string) error {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return fmt.Errorf("compile %q: %w", filter, err)
	}
	// pcap.BPFInstruction and bpf.RawInstruction share a layout: Code->Op, Jt, Jf, K.
	raw := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		raw[i] = bpf.RawInstruction{Op: insn.Code, Jt: insn.Jt, Jf: insn.Jf, K: insn.K}
	}
	return tp.SetBPF(raw)
}


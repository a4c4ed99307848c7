package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/bcrelay/internal/core"
)

const (
	defaultSnapLen = 65535
	defaultTimeout = 100 * time.Millisecond
)

// PcapOptions configures a libpcap live capture.
type PcapOptions struct {
	SnapLen     int           `mapstructure:"snap_len"`
	Promiscuous bool          `mapstructure:"promiscuous"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BPFFilter   string        `mapstructure:"bpf_filter"`
}

// DefaultPcapOptions returns the options used when none are configured.
func DefaultPcapOptions() PcapOptions {
	return PcapOptions{
		SnapLen:     defaultSnapLen,
		Promiscuous: false,
		Timeout:     defaultTimeout,
	}
}

// PcapDevice captures from a live interface through libpcap.
type PcapDevice struct {
	name string
	opts PcapOptions
	hub  Hub
	pump *pump

	mu     sync.Mutex
	handle *pcap.Handle
}

// NewPcapDevice returns an unopened device for interface name.
func NewPcapDevice(name string, opts PcapOptions) *PcapDevice {
	if opts.SnapLen <= 0 {
		opts.SnapLen = defaultSnapLen
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	d := &PcapDevice{name: name, opts: opts}
	d.pump = newPump(name, &d.hub, func(err error) bool {
		return errors.Is(err, pcap.NextErrorTimeoutExpired)
	})
	return d
}

// Name returns the interface name.
func (d *PcapDevice) Name() string { return d.name }

// Open opens the interface. Opening an open device is a no-op.
func (d *PcapDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		return nil
	}

	handle, err := pcap.OpenLive(d.name, int32(d.opts.SnapLen), d.opts.Promiscuous, d.opts.Timeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(d.opts.BPFFilter); err != nil {
			handle.Close()
			return fmt.Errorf("set bpf filter %q on %s: %w", d.opts.BPFFilter, d.name, err)
		}
	}
	d.handle = handle

	slog.Info("pcap device opened",
		"device", d.name,
		"snap_len", d.opts.SnapLen,
		"promiscuous", d.opts.Promiscuous,
		"bpf_filter", d.opts.BPFFilter,
		"link_type", handle.LinkType())
	return nil
}

// StartCapture starts the delivery goroutine.
func (d *PcapDevice) StartCapture() error {
	d.mu.Lock()
	handle := d.handle
	d.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("start capture on %s: %w", d.name, core.ErrDeviceClosed)
	}
	d.pump.start(handle.ReadPacketData, handle.LinkType())
	return nil
}

// StopCapture stops delivery and waits for the delivery goroutine to exit.
func (d *PcapDevice) StopCapture() error {
	d.pump.halt()
	return nil
}

// Close stops capture if needed and releases the handle.
func (d *PcapDevice) Close() error {
	d.pump.halt()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return nil
	}
	d.handle.Close()
	d.handle = nil
	slog.Info("pcap device closed", "device", d.name)
	return nil
}

// Subscribe registers fn for every captured frame.
func (d *PcapDevice) Subscribe(fn FrameHandler) Subscription {
	return d.hub.Subscribe(fn)
}

// LinkType returns the link type of the open handle, Ethernet otherwise.
func (d *PcapDevice) LinkType() layers.LinkType {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return layers.LinkTypeEthernet
	}
	return d.handle.LinkType()
}

// Stats reports frames delivered and kernel drops.
func (d *PcapDevice) Stats() Stats {
	s := Stats{PacketsReceived: d.pump.received.Load()}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		if ps, err := d.handle.Stats(); err == nil {
			s.PacketsDropped = uint64(ps.PacketsDropped + ps.PacketsIfDropped)
		}
	}
	return s
}

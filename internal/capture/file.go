package capture

import (
	"fmt"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/bcrelay/internal/core"
)

// FileOptions configures an offline replay.
type FileOptions struct {
	Path      string `mapstructure:"path"`
	BPFFilter string `mapstructure:"bpf_filter"`
}

// FileDevice replays a pcap file once, as fast as subscribers consume it.
// Its identity is the device name it was created with, so a capture can be
// replayed under the name of the interface it was recorded on.
type FileDevice struct {
	name string
	opts FileOptions
	hub  Hub
	pump *pump

	mu     sync.Mutex
	handle *pcap.Handle
}

// NewFileDevice returns an unopened replay device.
func NewFileDevice(name string, opts FileOptions) *FileDevice {
	if opts.Path == "" {
		opts.Path = name
	}
	d := &FileDevice{name: name, opts: opts}
	d.pump = newPump(name, &d.hub, nil)
	return d
}

// Name returns the device identity.
func (d *FileDevice) Name() string { return d.name }

// Open opens the pcap file.
func (d *FileDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		return nil
	}
	handle, err := pcap.OpenOffline(d.opts.Path)
	if err != nil {
		return fmt.Errorf("open pcap file %s: %w", d.opts.Path, err)
	}
	if d.opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(d.opts.BPFFilter); err != nil {
			handle.Close()
			return fmt.Errorf("set bpf filter %q on %s: %w", d.opts.BPFFilter, d.opts.Path, err)
		}
	}
	d.handle = handle
	return nil
}

// StartCapture starts replaying.
func (d *FileDevice) StartCapture() error {
	d.mu.Lock()
	handle := d.handle
	d.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("start capture on %s: %w", d.name, core.ErrDeviceClosed)
	}
	d.pump.start(handle.ReadPacketData, handle.LinkType())
	return nil
}

// StopCapture stops replaying.
func (d *FileDevice) StopCapture() error {
	d.pump.halt()
	return nil
}

// Close stops replaying and closes the file.
func (d *FileDevice) Close() error {
	d.pump.halt()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		d.handle.Close()
		d.handle = nil
	}
	return nil
}

// Subscribe registers fn for every replayed frame.
func (d *FileDevice) Subscribe(fn FrameHandler) Subscription {
	return d.hub.Subscribe(fn)
}

// LinkType returns the file's link type, Ethernet before Open.
func (d *FileDevice) LinkType() layers.LinkType {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return layers.LinkTypeEthernet
	}
	return d.handle.LinkType()
}

// Stats reports frames replayed so far.
func (d *FileDevice) Stats() Stats {
	return Stats{PacketsReceived: d.pump.received.Load()}
}

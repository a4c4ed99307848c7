package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/bcrelay/internal/capture"
	"firestige.xyz/bcrelay/internal/core"
	"firestige.xyz/bcrelay/internal/packet"
)

// PacketHandler receives a matching packet on the device's delivery
// goroutine. The packet must not be retained after the handler returns.
type PacketHandler func(p *packet.Packet) error

// Monitor bridges one capture device to a PacketHandler. It owns the device
// lifecycle from construction until Release.
type Monitor struct {
	device  capture.Device
	local   *AddressSet
	handler PacketHandler

	sub      capture.Subscription
	released atomic.Bool
	once     sync.Once
}

// NewMonitor opens device, starts capture, then subscribes. Any device
// failure is returned and leaves the device closed.
func NewMonitor(device capture.Device, local *AddressSet, handler PacketHandler) (*Monitor, error) {
	if device == nil {
		return nil, fmt.Errorf("capture device is nil: %w", core.ErrInvalidArgument)
	}
	if local == nil {
		return nil, fmt.Errorf("local address set is nil: %w", core.ErrInvalidArgument)
	}
	if handler == nil {
		return nil, fmt.Errorf("packet handler is nil: %w", core.ErrInvalidArgument)
	}

	m := &Monitor{device: device, local: local, handler: handler}

	if err := device.Open(); err != nil {
		return nil, fmt.Errorf("open %s: %w", device.Name(), err)
	}
	if err := device.StartCapture(); err != nil {
		closeErr := device.Close()
		return nil, errors.Join(fmt.Errorf("start capture on %s: %w", device.Name(), err), closeErr)
	}
	m.sub = device.Subscribe(m.onFrame)

	slog.Info("adapter monitor started", "device", device.Name(), "local_addresses", local.Len())
	return m, nil
}

// Device returns the monitored device.
func (m *Monitor) Device() capture.Device { return m.device }

func (m *Monitor) onFrame(frame core.Frame) {
	if m.released.Load() {
		return
	}
	p, err := packet.Parse(frame.Data, frame.LinkType)
	if err != nil {
		return
	}
	if !IsLocalBroadcast(p, m.local) {
		return
	}
	if err := m.handler(p); err != nil {
		slog.Warn("relay failed", "device", m.device.Name(), "error", err)
	}
}

// Release unsubscribes, stops capture and closes the device. After Release
// returns no new handler call starts; one already running may finish.
// Releasing twice is a no-op. Release must not be called from the handler:
// live devices wait for their delivery goroutine to exit, which is the
// goroutine the handler runs on.
func (m *Monitor) Release() {
	m.once.Do(func() {
		m.released.Store(true)
		m.sub.Close()
		if err := m.device.StopCapture(); err != nil {
			slog.Warn("stop capture failed", "device", m.device.Name(), "error", err)
		}
		if err := m.device.Close(); err != nil {
			slog.Warn("close device failed", "device", m.device.Name(), "error", err)
		}
		slog.Info("adapter monitor released", "device", m.device.Name())
	})
}

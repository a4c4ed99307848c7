// Package relay captures locally originated IPv4 UDP subnet broadcasts and
// relays a rewritten copy of each one to a set of unicast destinations.
package relay

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"firestige.xyz/bcrelay/internal/capture"
	"firestige.xyz/bcrelay/internal/core"
	"firestige.xyz/bcrelay/internal/packet"
	"firestige.xyz/bcrelay/internal/sender"
)

// Option configures a Manager.
type Option func(*Manager)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// Manager owns the destination set, one Monitor per enabled device and the
// relay counter.
//
// Enable, disable and Close are serialized by one mutex. The destination set
// has its own RWMutex, held by the fan-out only long enough to copy it.
type Manager struct {
	local    *AddressSet
	sender   sender.Sender
	observer Observer

	mu       sync.Mutex
	monitors map[string]*Monitor
	closed   bool

	destMu       sync.RWMutex
	destinations []netip.Addr // sorted, unique

	relayed atomic.Uint64
}

// NewManager returns a Manager that relays broadcasts from local through s.
func NewManager(local *AddressSet, s sender.Sender, opts ...Option) (*Manager, error) {
	if local == nil {
		return nil, fmt.Errorf("local address set is nil: %w", core.ErrInvalidArgument)
	}
	if s == nil {
		return nil, fmt.Errorf("sender is nil: %w", core.ErrInvalidArgument)
	}
	m := &Manager{
		local:    local,
		sender:   s,
		observer: nopObserver{},
		monitors: make(map[string]*Monitor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewDefaultManager detects the local addresses and opens a RawSender. The
// returned sender must be closed after the Manager.
func NewDefaultManager(sopts sender.Options, opts ...Option) (*Manager, *sender.RawSender, error) {
	local, err := LocalAddresses()
	if err != nil {
		return nil, nil, err
	}
	rs, err := sender.NewRawSender(sopts)
	if err != nil {
		return nil, nil, err
	}
	m, err := NewManager(local, rs, opts...)
	if err != nil {
		rs.Close()
		return nil, nil, err
	}
	return m, rs, nil
}

// LocalAddresses returns the addresses whose broadcasts are relayed.
func (m *Manager) LocalAddresses() *AddressSet { return m.local }

// EnableCaptureDevice starts relaying broadcasts captured on device. It is a
// no-op when a device with the same name is already enabled. Open and start
// failures are returned as is.
func (m *Manager) EnableCaptureDevice(device capture.Device) error {
	if device == nil {
		return fmt.Errorf("capture device is nil: %w", core.ErrInvalidArgument)
	}
	name := device.Name()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.ErrRelayClosed
	}
	if _, ok := m.monitors[name]; ok {
		return nil
	}

	mon, err := NewMonitor(device, m.local, func(p *packet.Packet) error {
		return m.packetReceived(name, p)
	})
	if err != nil {
		return err
	}
	m.monitors[name] = mon
	m.observer.DevicesChanged(len(m.monitors))
	return nil
}

// DisableCaptureDevice stops relaying from the device with device's name.
// Disabling a device that is not enabled is a no-op.
func (m *Manager) DisableCaptureDevice(device capture.Device) error {
	if device == nil {
		return fmt.Errorf("capture device is nil: %w", core.ErrInvalidArgument)
	}
	name := device.Name()

	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[name]
	if !ok {
		return nil
	}
	delete(m.monitors, name)
	mon.Release()
	m.observer.DevicesChanged(len(m.monitors))
	return nil
}

// Device returns the enabled device called name.
func (m *Manager) Device(name string) (capture.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[name]
	if !ok {
		return nil, false
	}
	return mon.Device(), true
}

// Devices returns the names of the enabled devices, sorted.
func (m *Manager) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.monitors))
	for name := range m.monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddDestination adds ip to the destination set. Adding a present address is
// a no-op.
func (m *Manager) AddDestination(ip netip.Addr) error {
	ip = ip.Unmap()
	if !ip.Is4() {
		return fmt.Errorf("destination %s: %w", ip, core.ErrInvalidAddress)
	}

	m.destMu.Lock()
	i, found := slices.BinarySearchFunc(m.destinations, ip, netip.Addr.Compare)
	if !found {
		m.destinations = slices.Insert(m.destinations, i, ip)
	}
	n := len(m.destinations)
	m.destMu.Unlock()

	if !found {
		slog.Info("destination added", "ip", ip)
		m.observer.DestinationsChanged(n)
	}
	return nil
}

// RemoveDestination removes ip from the destination set. Removing an absent
// address is a no-op.
func (m *Manager) RemoveDestination(ip netip.Addr) error {
	ip = ip.Unmap()
	if !ip.Is4() {
		return fmt.Errorf("destination %s: %w", ip, core.ErrInvalidAddress)
	}

	m.destMu.Lock()
	i, found := slices.BinarySearchFunc(m.destinations, ip, netip.Addr.Compare)
	if found {
		m.destinations = slices.Delete(m.destinations, i, i+1)
	}
	n := len(m.destinations)
	m.destMu.Unlock()

	if found {
		slog.Info("destination removed", "ip", ip)
		m.observer.DestinationsChanged(n)
	}
	return nil
}

// Destinations returns a sorted copy of the destination set.
func (m *Manager) Destinations() []netip.Addr {
	m.destMu.RLock()
	defer m.destMu.RUnlock()
	return slices.Clone(m.destinations)
}

// PacketsRelayed returns the number of successful per-destination sends.
func (m *Manager) PacketsRelayed() uint64 {
	return m.relayed.Load()
}

// packetReceived rewrites p for each destination in turn and sends it. p is
// mutated in place, so the sends are strictly sequential. The first send
// failure skips the remaining destinations and is returned.
func (m *Manager) packetReceived(device string, p *packet.Packet) error {
	m.observer.FrameMatched(device)

	dsts := m.Destinations()
	for _, dst := range dsts {
		if err := p.SetDestination(dst); err != nil {
			return err
		}
		if err := p.CorrectFields(); err != nil {
			return fmt.Errorf("rewrite for %s: %w", dst, err)
		}
		datagram, err := p.Datagram()
		if err != nil {
			return fmt.Errorf("rewrite for %s: %w", dst, err)
		}
		if err := m.sender.Send(datagram); err != nil {
			m.observer.SendFailed(dst, err)
			return fmt.Errorf("relay to %s: %w", dst, err)
		}
		m.relayed.Add(1)
		m.observer.PacketRelayed(dst)
	}
	return nil
}

// Close releases every Monitor. Closing twice is a no-op; a closed Manager
// refuses new devices.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for name, mon := range m.monitors {
		mon.Release()
		delete(m.monitors, name)
	}
	m.observer.DevicesChanged(0)
}

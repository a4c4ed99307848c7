package daemon

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"firestige.xyz/bcrelay/internal/capture"
	"firestige.xyz/bcrelay/internal/command"
	"firestige.xyz/bcrelay/internal/metrics"
	"firestige.xyz/bcrelay/internal/relay"
	"firestige.xyz/bcrelay/internal/store"
)

// DeviceFactory builds an unopened capture device for an interface name.
type DeviceFactory func(name string) (capture.Device, error)

// relayService adapts relay.Manager to the control plane: it builds devices
// by name, keeps the persisted selections in step with the manager and
// publishes capture counters.
type relayService struct {
	manager   *relay.Manager
	store     store.Persistence
	newDevice DeviceFactory

	// mu serializes selection changes so the persisted lists match the
	// manager after every command.
	mu sync.Mutex
}

var _ command.RelayController = (*relayService)(nil)

func newRelayService(m *relay.Manager, p store.Persistence, f DeviceFactory) *relayService {
	if p == nil {
		p = store.NopStore{}
	}
	return &relayService{manager: m, store: p, newDevice: f}
}

func (s *relayService) EnableAdapter(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.manager.Device(name); ok {
		return nil
	}
	dev, err := s.newDevice(name)
	if err != nil {
		return fmt.Errorf("create device %s: %w", name, err)
	}
	if err := s.manager.EnableCaptureDevice(dev); err != nil {
		return err
	}
	slog.Info("adapter enabled", "adapter", name)
	s.saveAdapters()
	return nil
}

func (s *relayService) DisableAdapter(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.manager.Device(name)
	if !ok {
		return nil
	}
	if err := s.manager.DisableCaptureDevice(dev); err != nil {
		return err
	}
	metrics.ForgetDevice(name)
	slog.Info("adapter disabled", "adapter", name)
	s.saveAdapters()
	return nil
}

func (s *relayService) Adapters() []command.AdapterStatus {
	names := s.manager.Devices()
	out := make([]command.AdapterStatus, 0, len(names))
	for _, name := range names {
		st := command.AdapterStatus{Name: name}
		if dev, ok := s.manager.Device(name); ok {
			if sr, ok := dev.(capture.StatsReporter); ok {
				stats := sr.Stats()
				st.PacketsReceived = stats.PacketsReceived
				st.PacketsDropped = stats.PacketsDropped
			}
		}
		out = append(out, st)
	}
	return out
}

func (s *relayService) AddDestination(ip netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manager.AddDestination(ip); err != nil {
		return err
	}
	s.saveDestinations()
	return nil
}

func (s *relayService) RemoveDestination(ip netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manager.RemoveDestination(ip); err != nil {
		return err
	}
	s.saveDestinations()
	return nil
}

func (s *relayService) Destinations() []netip.Addr { return s.manager.Destinations() }
func (s *relayService) PacketsRelayed() uint64     { return s.manager.PacketsRelayed() }

// restore re-applies the persisted selections merged with the configured
// ones. Entries that fail are logged and skipped.
func (s *relayService) restore(adapters, destinations []string) {
	savedAdapters, err := s.store.LoadAdapterSelections()
	if err != nil {
		slog.Warn("failed to load saved adapters", "error", err)
	}
	savedDestinations, err := s.store.LoadDestinations()
	if err != nil {
		slog.Warn("failed to load saved destinations", "error", err)
	}

	for _, d := range union(destinations, savedDestinations) {
		ip, err := relay.ParseIPv4(d)
		if err == nil {
			err = s.AddDestination(ip)
		}
		if err != nil {
			slog.Warn("skipping destination", "destination", d, "error", err)
		}
	}
	for _, name := range union(adapters, savedAdapters) {
		if err := s.EnableAdapter(name); err != nil {
			slog.Warn("skipping adapter", "adapter", name, "error", err)
		}
	}
}

// enableSoleInterface enables the host's only capture interface when restore
// left no adapter enabled.
func (s *relayService) enableSoleInterface(list func() ([]capture.DeviceInfo, error)) {
	if len(s.manager.Devices()) > 0 {
		return
	}
	devs, err := list()
	if err != nil {
		slog.Warn("failed to list capture interfaces", "error", err)
		return
	}
	if len(devs) != 1 {
		return
	}
	if err := s.EnableAdapter(devs[0].Name); err != nil {
		slog.Warn("failed to enable sole interface", "adapter", devs[0].Name, "error", err)
	}
}

// collectStats publishes every enabled device's capture counters.
func (s *relayService) collectStats() {
	for _, a := range s.Adapters() {
		metrics.SetCaptureStats(a.Name, a.PacketsReceived, a.PacketsDropped)
	}
}

// persist writes the current selections; called on shutdown.
func (s *relayService) persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveAdapters()
	s.saveDestinations()
}

func (s *relayService) saveAdapters() {
	if err := s.store.SaveAdapterSelections(s.manager.Devices()); err != nil {
		slog.Warn("failed to save adapters", "error", err)
	}
}

func (s *relayService) saveDestinations() {
	dsts := s.manager.Destinations()
	out := make([]string, len(dsts))
	for i, d := range dsts {
		out[i] = d.String()
	}
	if err := s.store.SaveDestinations(out); err != nil {
		slog.Warn("failed to save destinations", "error", err)
	}
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, s := range slices.Concat(a, b) {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

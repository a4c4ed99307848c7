// Package metrics implements Prometheus metrics.
package metrics

import (
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesMatchedTotal counts captured frames that qualified for relay, by device
	FramesMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_relay_frames_matched_total",
			Help: "Total number of captured local broadcasts that qualified for relay",
		},
		[]string{"device"},
	)

	// PacketsRelayedTotal counts successful per-destination sends
	PacketsRelayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_relay_packets_relayed_total",
			Help: "Total number of datagrams relayed to a destination",
		},
	)

	// SendErrorsTotal counts failed sends
	SendErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_relay_send_errors_total",
			Help: "Total number of failed relay sends",
		},
	)

	// Destinations tracks the size of the destination set
	Destinations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_relay_destinations",
			Help: "Number of configured relay destinations",
		},
	)

	// Adapters tracks the number of enabled capture devices
	Adapters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_relay_adapters",
			Help: "Number of enabled capture devices",
		},
	)

	// CapturePackets reports frames delivered by each device's capture source
	CapturePackets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcast_relay_capture_packets",
			Help: "Frames delivered by the capture source since the device was enabled",
		},
		[]string{"device"},
	)

	// CaptureDrops reports frames dropped by the kernel or libpcap
	CaptureDrops = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcast_relay_capture_drops",
			Help: "Frames dropped before delivery since the device was enabled",
		},
		[]string{"device"},
	)
)

// RelayObserver feeds relay activity into the package metrics.
type RelayObserver struct{}

func (RelayObserver) FrameMatched(device string) {
	FramesMatchedTotal.WithLabelValues(device).Inc()
}

func (RelayObserver) PacketRelayed(netip.Addr) {
	PacketsRelayedTotal.Inc()
}

func (RelayObserver) SendFailed(netip.Addr, error) {
	SendErrorsTotal.Inc()
}

func (RelayObserver) DestinationsChanged(n int) {
	Destinations.Set(float64(n))
}

func (RelayObserver) DevicesChanged(n int) {
	Adapters.Set(float64(n))
}

// SetCaptureStats publishes one device's capture counters.
func SetCaptureStats(device string, received, dropped uint64) {
	CapturePackets.WithLabelValues(device).Set(float64(received))
	CaptureDrops.WithLabelValues(device).Set(float64(dropped))
}

// ForgetDevice removes a disabled device's series.
func ForgetDevice(device string) {
	CapturePackets.DeleteLabelValues(device)
	CaptureDrops.DeleteLabelValues(device)
}

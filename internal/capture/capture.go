// Package capture implements capture sources: devices that are opened, start
// capturing, and deliver every captured frame to their subscribers on one
// dedicated goroutine per device.
package capture

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/bcrelay/internal/core"
)

// FrameHandler receives one frame. It runs on the device's delivery goroutine
// and must not retain frame.Data after returning.
type FrameHandler func(frame core.Frame)

// Subscription is a registered FrameHandler. Close is idempotent.
type Subscription interface {
	Close()
}

// Device is a capture source bound to one network interface (or file).
// Name is the device identity.
type Device interface {
	Name() string
	Open() error
	Close() error
	StartCapture() error
	StopCapture() error
	Subscribe(fn FrameHandler) Subscription
}

// Stats is a snapshot of device counters.
type Stats struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`
}

// StatsReporter is implemented by devices that count what they capture.
type StatsReporter interface {
	Stats() Stats
}

// LinkTyper is implemented by devices whose link type is known once open.
type LinkTyper interface {
	LinkType() layers.LinkType
}

// Package capturetest provides an in-memory capture device for tests.
package capturetest

import (
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/bcrelay/internal/capture"
	"firestige.xyz/bcrelay/internal/core"
)

// Device is a capture.Device whose frames come from Inject. Lifecycle calls
// are counted, and OpenErr / StartErr make the matching call fail.
type Device struct {
	name string
	hub  capture.Hub

	mu        sync.Mutex
	OpenErr   error
	StartErr  error
	opened    bool
	capturing bool
	calls     map[string]int
	order     []string
}

// NewDevice returns a closed device named name.
func NewDevice(name string) *Device {
	return &Device{name: name, calls: make(map[string]int)}
}

func (d *Device) record(call string) {
	d.calls[call]++
	d.order = append(d.order, call)
}

// Name returns the device identity.
func (d *Device) Name() string { return d.name }

// Open marks the device open unless OpenErr is set.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Open")
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.opened = true
	return nil
}

// Close marks the device closed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Close")
	d.opened = false
	d.capturing = false
	return nil
}

// StartCapture marks the device capturing unless StartErr is set.
func (d *Device) StartCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("StartCapture")
	if d.StartErr != nil {
		return d.StartErr
	}
	if !d.opened {
		return core.ErrDeviceClosed
	}
	d.capturing = true
	return nil
}

// StopCapture marks the device idle.
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("StopCapture")
	d.capturing = false
	return nil
}

// Subscribe registers fn.
func (d *Device) Subscribe(fn capture.FrameHandler) capture.Subscription {
	d.mu.Lock()
	d.record("Subscribe")
	d.mu.Unlock()
	return d.hub.Subscribe(fn)
}

// Inject delivers data as an Ethernet frame to every current subscriber on
// the calling goroutine, whatever the lifecycle state, and returns how many
// subscribers saw it.
func (d *Device) Inject(data []byte) int {
	return d.InjectLinkType(data, layers.LinkTypeEthernet)
}

// InjectLinkType is Inject with an explicit link type.
func (d *Device) InjectLinkType(data []byte, lt layers.LinkType) int {
	return d.hub.Publish(core.Frame{
		Data:      data,
		LinkType:  lt,
		Timestamp: time.Now(),
		Device:    d.name,
	})
}

// Calls returns how many times method was called.
func (d *Device) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// Order returns the lifecycle calls in the order they happened.
func (d *Device) Order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

// Subscribers returns the number of live subscriptions.
func (d *Device) Subscribers() int {
	return d.hub.Len()
}

// Capturing reports whether the device is open and capturing.
func (d *Device) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened && d.capturing
}

package relay

import "net/netip"

// Observer is notified of relay activity. Calls happen on capture
// goroutines and the control goroutine, so implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	FrameMatched(device string)
	PacketRelayed(dst netip.Addr)
	SendFailed(dst netip.Addr, err error)
	DestinationsChanged(n int)
	DevicesChanged(n int)
}

type nopObserver struct{}

func (nopObserver) FrameMatched(string)          {}
func (nopObserver) PacketRelayed(netip.Addr)     {}
func (nopObserver) SendFailed(netip.Addr, error) {}
func (nopObserver) DestinationsChanged(int)      {}
func (nopObserver) DevicesChanged(int)           {}

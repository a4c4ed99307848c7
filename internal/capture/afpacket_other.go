//go:build !linux

package capture

import (
	"fmt"
	"runtime"
)

// NewAFPacketDevice fails: AF_PACKET rings only exist on Linux.
func NewAFPacketDevice(name string, opts AFPacketOptions) (Device, error) {
	return nil, fmt.Errorf("afpacket capture on %s not supported on %s", name, runtime.GOOS)
}

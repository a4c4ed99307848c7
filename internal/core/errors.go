// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w") at the call site.
var (
	// Argument errors
	ErrInvalidArgument = errors.New("bcrelay: invalid argument")
	ErrInvalidAddress  = errors.New("bcrelay: invalid IPv4 address")

	// Capture device errors
	ErrDeviceNotFound = errors.New("bcrelay: capture device not found")
	ErrDeviceClosed   = errors.New("bcrelay: capture device not open")
	ErrUnknownBackend = errors.New("bcrelay: unknown capture backend")

	// Packet errors
	ErrPacketUndecodable = errors.New("bcrelay: packet could not be decoded")
	ErrNotIPv4UDP        = errors.New("bcrelay: packet is not an IPv4/UDP datagram")

	// Relay errors
	ErrRelayClosed = errors.New("bcrelay: relay manager closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("bcrelay: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("bcrelay: daemon not running")
)

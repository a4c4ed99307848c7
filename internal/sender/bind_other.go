//go:build !linux

package sender

import (
	"log/slog"
	"syscall"
)

func bindControl(iface string) func(network, address string, c syscall.RawConn) error {
	if iface != "" {
		slog.Warn("binding the send socket to an interface is only supported on linux", "interface", iface)
	}
	return nil
}

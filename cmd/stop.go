package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/bcrelay/internal/command"
	"firestige.xyz/bcrelay/internal/core"
	"firestige.xyz/bcrelay/internal/daemon"
)

var (
	stopForce   bool
	stopPIDFile string
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the relay daemon",
	Long: `Stop the relay daemon gracefully.

Sends daemon_shutdown over the control socket. The daemon saves its
selections, releases every adapter and exits. With --force, a daemon that
does not answer on the socket is sent SIGTERM using its PID file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, cmd.OutOrStdout())
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "fall back to SIGTERM via the PID file")
	stopCmd.Flags().StringVar(&stopPIDFile, "pidfile", "/var/run/broadcast-relay.pid", "PID file used by --force")
}

func runStop(cmd *cobra.Command, out io.Writer) error {
	resp, err := newClient().Call(cmd.Context(), command.MethodDaemonShutdown, nil)
	if err == nil && resp.Error == nil {
		fmt.Fprintln(out, "Daemon is shutting down.")
		return nil
	}
	if err == nil {
		err = errors.New(resp.Error.Message)
	}
	if !stopForce {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	if sigErr := daemon.SignalStop(stopPIDFile, timeout); sigErr != nil {
		if errors.Is(sigErr, core.ErrDaemonNotRunning) {
			return sigErr
		}
		return fmt.Errorf("failed to stop daemon: %w", errors.Join(err, sigErr))
	}
	fmt.Fprintln(out, "Daemon stopped.")
	return nil
}

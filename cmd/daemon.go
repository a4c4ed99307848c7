package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/bcrelay/internal/daemon"
)

var pidFile string

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the relay daemon in foreground",
	Long: `Run the broadcast-relay daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Restore saved adapters and destinations
  4. Start UDS server for CLI control
  5. Start Kafka command consumer (if configured)
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

Relaying needs CAP_NET_RAW for capture and the raw send socket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd)
	},
}

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
}

func runDaemon(cmd *cobra.Command) error {
	socket := ""
	if cmd.Flags().Changed("socket") {
		socket = socketPath
	}

	d, err := daemon.New(configFile, socket, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return d.Run()
}

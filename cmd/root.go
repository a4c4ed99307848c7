// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/bcrelay/internal/command"
)

var (
	// Global flags
	configFile string
	socketPath string
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "broadcast-relay",
	Short: "Relay local UDP broadcasts to remote hosts",
	Long: `broadcast-relay captures UDP broadcasts sent by this host on selected
network adapters and re-sends each one as unicast to a list of destination
addresses, so LAN discovery reaches peers across VPNs and routed links.

The daemon is controlled locally over a Unix domain socket and optionally
remotely through a Kafka command topic.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/broadcast-relay/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/broadcast-relay.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 10*time.Second,
		"control request timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(destinationCmd)
	rootCmd.AddCommand(adapterCmd)
	rootCmd.AddCommand(validateCmd)
}

// controlClient is the part of command.UDSClient the CLI uses.
type controlClient interface {
	Call(ctx context.Context, method string, params any) (*command.Response, error)
}

// newClient is replaced in tests.
var newClient = func() controlClient {
	return command.NewUDSClient(socketPath, timeout)
}

// call runs one control request and prints its result as indented JSON.
func call(ctx context.Context, out io.Writer, method string, params any) error {
	resp, err := newClient().Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	return printJSON(out, resp.Result)
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/bcrelay/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the relay daemon for its overall status.

Shows: pid, uptime and start time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodDaemonStatus, nil)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show relay statistics",
	Long: `Query the relay daemon for runtime statistics.

Shows: packets relayed, number of destinations and adapters, uptime.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodRelayStats, nil)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the daemon to re-read its configuration file.

Logging and capture settings apply immediately (capture settings to adapters
enabled afterwards); other changes need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodConfigReload, nil)
	},
}

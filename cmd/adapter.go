package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/bcrelay/internal/command"
)

// adapterCmd represents the adapter command group
var adapterCmd = &cobra.Command{
	Use:   "adapter",
	Short: "Manage capture adapters",
	Long: `Manage the network adapters broadcasts are captured on.

Subcommands:
  enable     - Start relaying broadcasts seen on an adapter
  disable    - Stop relaying from an adapter
  list       - List enabled adapters with capture counters
  available  - List adapters that can be captured on`,
}

var adapterEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodAdapterEnable,
			command.AdapterParams{Name: args[0]})
	},
}

var adapterDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodAdapterDisable,
			command.AdapterParams{Name: args[0]})
	},
}

var adapterListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List enabled adapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodAdapterList, nil)
	},
}

var adapterAvailableCmd = &cobra.Command{
	Use:   "available",
	Short: "List adapters that can be captured on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodAdapterAvailable, nil)
	},
}

func init() {
	adapterCmd.AddCommand(adapterEnableCmd)
	adapterCmd.AddCommand(adapterDisableCmd)
	adapterCmd.AddCommand(adapterListCmd)
	adapterCmd.AddCommand(adapterAvailableCmd)
}

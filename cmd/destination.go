package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/bcrelay/internal/command"
)

// destinationCmd represents the destination command group
var destinationCmd = &cobra.Command{
	Use:     "destination",
	Aliases: []string{"dst"},
	Short:   "Manage relay destinations",
	Long: `Manage the IPv4 addresses every relayed broadcast is sent to.

Subcommands:
  add     - Add a destination
  remove  - Remove a destination
  list    - List destinations`,
}

var destinationAddCmd = &cobra.Command{
	Use:   "add <ipv4>",
	Short: "Add a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodDestinationAdd,
			command.DestinationParams{IP: args[0]})
	},
}

var destinationRemoveCmd = &cobra.Command{
	Use:     "remove <ipv4>",
	Aliases: []string{"rm"},
	Short:   "Remove a destination",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodDestinationRemove,
			command.DestinationParams{IP: args[0]})
	},
}

var destinationListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List destinations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), command.MethodDestinationList, nil)
	},
}

func init() {
	destinationCmd.AddCommand(destinationAddCmd)
	destinationCmd.AddCommand(destinationRemoveCmd)
	destinationCmd.AddCommand(destinationListCmd)
}

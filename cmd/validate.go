package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/bcrelay/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the daemon configuration file",
	Long: `Load the configuration file given by --config, apply defaults and
validate it without starting the daemon.

Examples:
  broadcast-relay validate -c /etc/broadcast-relay/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	fmt.Fprintf(out, "VALID: node %q, backend %s, %d adapter(s), %d destination(s)\n",
		cfg.Node.Hostname,
		cfg.Capture.Backend,
		len(cfg.Relay.Adapters),
		len(cfg.Relay.Destinations),
	)
	return nil
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("%s is not healthy: %w", cfg.Server.URL, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is %s (%s)\n",
			cfg.Server.URL, h.Status, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

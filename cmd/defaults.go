package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
)

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Inspect retry defaults files",
}

var defaultsValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a retry defaults YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := policy.LoadDefaults(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "retry_days=%s plugin_start=%s plugin_multiplier=%g plugin_max_attempts=%d fingerprint=%s\n",
			defaults.Days.String(),
			defaults.Plugin.Start,
			defaults.Plugin.Multiplier,
			defaults.Plugin.MaxAttempts,
			defaults.Fingerprint(),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(defaultsCmd)
	defaultsCmd.AddCommand(defaultsValidateCmd)
}

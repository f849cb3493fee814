package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "payment-retries",
	Short: "Payment retry orchestrator",
	Long:  "A microservice that retries failed recurring payments on per-tenant schedules and streams the outcomes to subscribers.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// blemeshd runs the mesh link layer against the simulated radio bus:
// several nodes on one bus discovering, connecting, and exchanging beacon
// packets. Useful for watching the engine's behavior end to end without
// hardware.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/blemesh/logger"
)

var rootCmd = &cobra.Command{
	Use:           "blemeshd",
	Short:         "Store-and-forward mesh link layer daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var logLevelFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logger.SetLevel(logger.ParseLevel(logLevelFlag))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

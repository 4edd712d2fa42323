package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hopper",
	Short: "Multi-hop query orchestrator",
	Long: `Hopper answers questions that need several reasoning steps.

A query is decomposed into dependent sub-queries, which are dispatched in
layers to capability-matched workers. Hop results are cross-validated and
synthesized into a single cited answer. Reasoning state is checkpointed so
interrupted queries can be inspected and recovered.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .hopper.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

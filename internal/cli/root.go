// Package cli defines the gatehawk command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gatehawk",
	Short: "Physical-security event pipeline",
	Long: `gatehawk ingests door-access and camera webhooks, normalizes them into
canonical events, correlates cross-source activity, and delivers rule-based
notifications.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
}

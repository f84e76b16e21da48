// Package mux is the mux relay's cobra command tree: serve, migrate, seed.
// Grounded on the teacher's cmd/root.go (a bare rootCmd plus
// cobra.OnInitialize for config loading) without its domain-specific
// subcommands.
package mux

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mux",
	Short: "Multi-tenant messaging mux relay",
	Long:  "mux brokers outbound sends and inbound events between tenant application servers and Telegram, Discord and WhatsApp.",
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

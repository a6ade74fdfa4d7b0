// Package app provides the entry point for the authgate command-line
// application.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "authgate",
	DisableAutoGenTag: true,
	Short:             "A capability-based authentication and authorization gateway",
	Long: `authgate sits in front of internal services and decides, on every
request, whether the caller's credential carries the capability the
service requires. It issues and verifies its own signed tokens, mints
opaque handles for clients, and reissues cross-audience service tokens
on request.`,
}

// NewRootCmd creates a new root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	return rootCmd
}

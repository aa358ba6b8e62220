// Package cmd implements the relai command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relai",
	Short: "relai - retrieval-augmented chat server",
	Long: `relai serves retrieval-augmented chat over an authenticated WebSocket
gateway, with a two-tier response cache, conversation history, and
hot-reloadable prompt configuration.

Running relai without a subcommand starts the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

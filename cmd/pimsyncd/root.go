package main

import (
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the pimsyncd CLI entry point: a long-running daemon
// command (serve) plus ops tooling (migrate) over the same reports
// database the daemon writes to.
var rootCmd = &cobra.Command{
	Use:   "pimsyncd",
	Short: "PIM synchronization daemon",
	Long: `pimsyncd reconciles local PIM sources (addressbook, calendar,
memos, todos) against a remote peer under named, persisted
configurations, driven over an object-bus style HTTP+WebSocket API
rather than a command line.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the daemon config file (YAML)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

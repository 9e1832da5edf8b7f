package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncevo/pimsyncd/internal/daemonconfig"
	"github.com/syncevo/pimsyncd/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the reports database schema",
	Long:  "Apply, roll back, or inspect the embedded goose migrations backing the reports database.",
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func reportsDBPath() (string, error) {
	cfg, err := daemonconfig.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load daemon config: %w", err)
	}
	return cfg.Store.ReportsDBPath, nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := reportsDBPath()
		if err != nil {
			return err
		}
		return store.MigrateUp(context.Background(), path)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recently applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := reportsDBPath()
		if err != nil {
			return err
		}
		return store.MigrateDown(context.Background(), path)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print applied/pending migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := reportsDBPath()
		if err != nil {
			return err
		}
		return store.MigrateStatus(context.Background(), path)
	},
}

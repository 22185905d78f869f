package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frak-id/atelier-sub002/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the tasks database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(os.Stdout)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		count, err := db.TaskCount(cmd.Context())
		if err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}
		logger.Info("database ready", "path", cfg.DBPath, "tasks", count)
		return nil
	},
}

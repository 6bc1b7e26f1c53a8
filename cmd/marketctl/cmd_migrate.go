package main

import (
	"market-pulse/internal/app"
	"market-pulse/internal/config"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ClickHouse database and apply the ClickHouse and Postgres schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.ClickHouse.Enabled {
				if err := app.EnsureClickHouseDatabase(cmd.Context(), cfg.ClickHouse); err != nil {
					return err
				}
			}

			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.Logger.Info("✓ Migrations completed")
			return nil
		},
	}
}

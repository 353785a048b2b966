package main

import (
	"context"

	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/migration"
	"github.com/smallbiznis/paymatch/internal/observability"
	"github.com/smallbiznis/paymatch/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			return runOneShot(cmd.Context(), fx.Options(config.Module, observability.Module, db.Module),
				func(ctx context.Context) error {
					sqlDB, err := conn.DB()
					if err != nil {
						return err
					}
					if err := migration.RunMigrations(sqlDB); err != nil {
						return err
					}
					version, dirty, err := migration.Version(sqlDB)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"version": version,
						"dirty":   dirty,
					})
				},
				&conn,
			)
		},
	}
}

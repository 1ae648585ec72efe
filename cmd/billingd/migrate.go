package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billingkit/migrations"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		log := newLogger(s.App)

		pool, err := connectPG(cmd.Context(), s.PG, true, log)
		if err != nil {
			return err
		}
		pool.Close()
		return nil
	},
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, migrations.FS, cfg, log)
}

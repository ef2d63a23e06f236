package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/prolessons/internal/store"
	pkgconfig "github.com/dmitrymomot/prolessons/pkg/config"
	"github.com/dmitrymomot/prolessons/pkg/logger"
	"github.com/dmitrymomot/prolessons/pkg/pg"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var cfg pg.Config
			if err := pkgconfig.Load(&cfg); err != nil {
				return err
			}
			log := logger.New(logger.WithFormat(logger.FormatText))

			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool, store.Migrations(), cfg, log); err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied")
			return nil
		},
	}
}

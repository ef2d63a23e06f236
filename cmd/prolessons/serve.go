package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/prolessons/internal/app"
	"github.com/dmitrymomot/prolessons/internal/config"
	pkgconfig "github.com/dmitrymomot/prolessons/pkg/config"
	"github.com/dmitrymomot/prolessons/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var cfg config.Config
			if err := pkgconfig.Load(&cfg); err != nil {
				return err
			}
			log := app.NewLogger(cfg)
			logger.SetAsDefault(log)

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error("failed to close connections", logger.Error(err))
				}
			}()

			if migrate {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
			}
			return a.Serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply database migrations before serving")
	return cmd
}

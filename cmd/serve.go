package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guardbook/guardbook/internal/config"
	"github.com/guardbook/guardbook/internal/dependency"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling engine",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := dependency.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		slog.Info("guardbook: serving",
			"store", cfg.Store.Driver, "tenants", len(cfg.Tenants))

		if err := c.Runtime().Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

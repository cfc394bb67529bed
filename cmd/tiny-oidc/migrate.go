package main

import (
	"context"
	"time"

	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect the database schema migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			pool, err := repository.NewPool(ctx, cfg.Database.DSN(), 1)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(ctx, pool, args[0]); err != nil {
				return err
			}
			logger.L().Info("migration finished", zap.String("direction", args[0]))
			return nil
		},
	}
}

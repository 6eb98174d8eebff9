package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go-leadchat/internal/infrastructure/config"
	"go-leadchat/internal/infrastructure/database"
	"go-leadchat/internal/infrastructure/logging"
)

func NewMigrateCommand() *cobra.Command {
	logFlags := config.NewLogFlags()
	dbFlags := config.NewPostgresFlags()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Creates or updates the PostgreSQL schema.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbFlags.DBURL == "" {
				return errors.New("config: --db-url is required")
			}
			logger, err := logging.New(logFlags.Level, logFlags.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := database.Connect(ctx, dbFlags.DBURL, database.PoolSettings{MaxConns: 2})
			if err != nil {
				return fmt.Errorf("could not connect to db: %w", err)
			}
			defer pool.Close()

			if err := database.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("could not migrate db: %w", err)
			}
			logger.Info("schema is up to date")
			return nil
		},
	}

	logFlags.BindFlags(cmd.Flags())
	dbFlags.BindFlags(cmd.Flags())
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rag-backend/internal/app"
	"rag-backend/internal/config"
	"rag-backend/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset-index",
		Short: "Drop the vector collection",
		Long: `Drops the configured vector collection under the collection lock.
The next indexing job recreates it with that job's embedding dimension.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.InitLogger(cfg); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "This drops collection %q on %s. Re-run with --yes to confirm.\n",
					cfg.CollectionName, cfg.VectorBackend)
				return nil
			}

			if err := app.RequireSharedIndex(cfg); err != nil {
				return err
			}

			rdb, err := config.NewRedisClient(cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()

			collection, err := app.NewCollection(cfg, rdb, nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			info, err := collection.Info(ctx)
			if err != nil {
				return fmt.Errorf("describe collection: %w", err)
			}
			if !info.Exists {
				fmt.Fprintf(cmd.OutOrStdout(), "Collection %q does not exist.\n", cfg.CollectionName)
				return nil
			}
			if err := collection.Reset(ctx); err != nil {
				return fmt.Errorf("drop collection: %w", err)
			}

			logger.Info("vector collection dropped", "collection", cfg.CollectionName,
				"dimension", info.Dimension, "points", info.Points)
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped collection %q (%d points, dimension %d).\n",
				cfg.CollectionName, info.Points, info.Dimension)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the drop")
	return cmd
}

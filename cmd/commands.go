package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/logging"
	pgstore "github.com/JakeFAU/sitecore/internal/storage/postgres"
	"github.com/JakeFAU/sitecore/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations (or roll back one step with --down)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			logger = logger.Named("migrate")

			if down {
				return pgstore.Rollback(cfg.Database.DSN, logger)
			}
			if err := pgstore.Migrate(cfg.Database.DSN, logger); err != nil {
				logger.Error("Migration failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Crawl and analyze a new competitor, printing the stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			runner, cleanup, err := newRunner(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer cleanup()

			outcome, err := runner.Analyze(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", args[0], err)
			}
			return writeJSON(cmd, outcome)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to crawl (0 uses crawl.default_page_limit)")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "refresh <competitor-id>",
		Short: "Re-crawl an existing competitor and update its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			runner, cleanup, err := newRunner(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer cleanup()

			outcome, err := runner.Refresh(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("refresh %s: %w", args[0], err)
			}
			return writeJSON(cmd, outcome)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to crawl (0 uses crawl.default_page_limit)")
	return cmd
}

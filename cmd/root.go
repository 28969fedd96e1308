// Package cmd defines the CLI commands for the sitecore executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecore/internal/config"
	"github.com/JakeFAU/sitecore/internal/intelligence"
	"github.com/JakeFAU/sitecore/internal/server"
)

// competitorRunner is the orchestrator surface used by the one-shot commands.
type competitorRunner interface {
	Analyze(ctx context.Context, rawURL string, pageLimit int) (intelligence.Outcome, error)
	Refresh(ctx context.Context, id string, pageLimit int) (intelligence.Outcome, error)
}

// newRunner builds the orchestrator and a cleanup func. Tests replace it.
var newRunner = func(ctx context.Context, cfg *config.Config) (competitorRunner, func(), error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return app.Competitors(), func() { _ = app.Close(context.Background()) }, nil
}

type cfgKey struct{}

// newRootCmd creates the root command with its persistent flags and subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:           "sitecore",
		Short:         "Marketing-site backend: inbound email webhooks and competitor intelligence.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey{}, &cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/JSON/TOML); env vars use the SITECORE_ prefix")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config resolution when present")

	cmd.AddCommand(newServeCmd(), newMigrateCmd(), newAnalyzeCmd(), newRefreshCmd())
	return cmd
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/conneroisu/kiln/internal/builder"
	"github.com/conneroisu/kiln/internal/config"
	"github.com/conneroisu/kiln/internal/logging"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the site once and exit",
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.DefaultConfig())
	ctx := context.Background()

	if err := builder.New(cfg.Site, logger).Build(ctx); err != nil {
		logger.Error(ctx, err, "build failed")
		return err
	}

	logger.Info(ctx, "site built", "output", cfg.Site.OutputDir)
	return nil
}

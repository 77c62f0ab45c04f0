package cmd

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/kiln/internal/config"
	"github.com/conneroisu/kiln/internal/devserver"
	"github.com/conneroisu/kiln/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the site and start the development server with live reload",
	Long: `Build the site, serve it on the fixed development address, and watch the
content tree. Every change triggers a full rebuild, a server restart, and a
reload instruction to connected browsers.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.DefaultConfig())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := devserver.New(cfg, logger)
	if err := srv.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

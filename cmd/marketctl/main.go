package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"market-pulse/internal/app"
	"market-pulse/internal/config"
	"market-pulse/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketctl",
		Short:         "Operate the market data aggregation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		enqueueCmd(),
		migrateCmd(),
		showCmd(),
		backfillCmd(),
		checkCmd(),
	)
	return root
}

// setup loads configuration and connects every enabled backend.
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return app.New(ctx, cfg, logger)
}

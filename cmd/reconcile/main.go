// Command reconcile runs a single reconciliation tick and exits. Use it from
// an external scheduler or to trigger reopens by hand.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/optlsnd/helpscout-automation/internal/app/bootstrap"
	appconfig "github.com/optlsnd/helpscout-automation/internal/config"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reconcile failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	store, err := bootstrap.BuildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	job, err := bootstrap.BuildReconcileJob(ctx, cfg, store, nil, logger)
	if err != nil {
		return err
	}
	_, err = job.RunOnce(ctx)
	return err
}

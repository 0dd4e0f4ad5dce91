package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/optlsnd/helpscout-automation/internal/admin"
	"github.com/optlsnd/helpscout-automation/internal/api/router"
	"github.com/optlsnd/helpscout-automation/internal/app/bootstrap"
	appconfig "github.com/optlsnd/helpscout-automation/internal/config"
	"github.com/optlsnd/helpscout-automation/internal/observability/metrics"
	"github.com/optlsnd/helpscout-automation/internal/reconcile"
	"github.com/optlsnd/helpscout-automation/internal/webhook"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting helpscout-automation API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if !cfg.WebhookRequireSignature {
		logger.Warn("webhook signature enforcement disabled; unsigned requests are acknowledged and ignored")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.BuildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close schedule store", "error", err)
		}
	}()

	reg, metricsHandler := setupMetrics()

	job, err := bootstrap.BuildReconcileJob(ctx, cfg, store, reg, logger)
	if err != nil {
		logger.Error("failed to build reconcile job", "error", err)
		os.Exit(1)
	}
	scheduler, err := reconcile.NewScheduler(job, reconcile.SchedulerConfig{
		Spec:       cfg.ReconcileSchedule,
		Location:   time.UTC,
		RunOnStart: cfg.ReconcileRunOnStart,
	}, logger)
	if err != nil {
		logger.Error("failed to build reconcile scheduler", "error", err)
		os.Exit(1)
	}

	webhookHandler := webhook.NewHandler(webhook.Config{
		Secret:           cfg.HelpScoutSecret,
		RequireSignature: cfg.WebhookRequireSignature,
		MaxBodyBytes:     cfg.WebhookMaxBodyBytes,
		Location:         cfg.Location(),
	}, store, metrics.NewWebhookMetrics(reg), logger)

	// Setup router
	r := router.New(&router.Config{
		Logger:          logger,
		Webhook:         webhookHandler,
		Admin:           admin.NewHandler(store, reg, logger),
		MetricsHandler:  metricsHandler,
		AdminAuthSecret: cfg.AdminJWTSecret,
		AdminRateLimit:  cfg.AdminRateLimit,
		AdminRateBurst:  cfg.AdminRateBurst,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start(ctx)

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("reconcile tick did not finish before shutdown", "error", err)
	}

	logger.Info("server stopped")
}

// setupMetrics returns a dedicated registry with runtime collectors and the
// handler that exposes it.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

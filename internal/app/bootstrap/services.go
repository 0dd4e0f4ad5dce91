package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/optlsnd/helpscout-automation/internal/config"
	"github.com/optlsnd/helpscout-automation/internal/helpscout"
	"github.com/optlsnd/helpscout-automation/internal/notify"
	"github.com/optlsnd/helpscout-automation/internal/observability/metrics"
	"github.com/optlsnd/helpscout-automation/internal/reconcile"
	"github.com/optlsnd/helpscout-automation/internal/schedule"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

// BuildHelpScoutClient wires the platform client from configuration.
func BuildHelpScoutClient(cfg *appconfig.Config) (*helpscout.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	return helpscout.New(helpscout.Config{
		BaseURL:      cfg.HelpScoutAPIBaseURL,
		ClientID:     cfg.HelpScoutAppID,
		ClientSecret: cfg.HelpScoutAppSecret,
		Timeout:      cfg.HelpScoutHTTPTimeout,
	})
}

// BuildEmailSender returns the sender for cfg.EmailProvider.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case appconfig.EmailProviderSendGrid:
		sender := notify.NewSendGridSender(cfg.SendGridAPIKey, emailFrom(cfg), logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: sendgrid api key missing")
		}
		return sender, nil
	case appconfig.EmailProviderSES:
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return notify.NewSESSender(NewSESClient(awsCfg, cfg), emailFrom(cfg), logger), nil
	default:
		return notify.NewStubEmailSender(logger), nil
	}
}

func emailFrom(cfg *appconfig.Config) notify.Sender {
	return notify.Sender{Address: cfg.EmailFrom, Name: cfg.EmailFromName}
}

// BuildNotifier returns the abandonment alerter, or nil when no recipient
// is configured.
func BuildNotifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*notify.AbandonAlerter, error) {
	if cfg.AlertEmailTo == "" {
		return nil, nil
	}
	sender, err := BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return notify.NewAbandonAlerter(sender, cfg.AlertEmailTo, logger), nil
}

// BuildReconcileJob wires the reconciliation job. reg may be nil to skip metrics.
func BuildReconcileJob(ctx context.Context, cfg *appconfig.Config, store schedule.Store, reg prometheus.Registerer, logger *logging.Logger) (*reconcile.Job, error) {
	client, err := BuildHelpScoutClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: help scout client: %w", err)
	}
	notifier, err := BuildNotifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var recorder reconcile.Recorder
	if reg != nil {
		recorder = metrics.NewReconcileMetrics(reg)
	}
	var n reconcile.Notifier
	if notifier != nil {
		n = notifier
	}
	return reconcile.NewJob(store, client, n, recorder, logger, reconcile.Options{
		Timeout:        cfg.ReconcileTimeout,
		Concurrency:    cfg.ReconcileConcurrency,
		MaxAttempts:    cfg.ReconcileMaxAttempts,
		RetryBaseDelay: cfg.ReconcileRetryBaseDelay,
	}), nil
}

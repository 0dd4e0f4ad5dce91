// Command reconcile-lambda runs one reconciliation tick per invocation. It is
// meant to be driven by an EventBridge schedule.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/optlsnd/helpscout-automation/internal/app/bootstrap"
	appconfig "github.com/optlsnd/helpscout-automation/internal/config"
	"github.com/optlsnd/helpscout-automation/internal/reconcile"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

// tickSummary is returned to the Lambda runtime for the invocation log.
type tickSummary struct {
	Scanned   int `json:"scanned"`
	Due       int `json:"due"`
	Reopened  int `json:"reopened"`
	Retrying  int `json:"retrying"`
	Abandoned int `json:"abandoned"`
}

type handler struct {
	job    reconcile.Runner
	logger *logging.Logger
}

func (h *handler) handle(ctx context.Context, evt events.EventBridgeEvent) (tickSummary, error) {
	h.logger.Info("reconcile invocation", "event_id", evt.ID, "source", evt.Source)
	res, err := h.job.RunOnce(ctx)
	if err != nil {
		return tickSummary{}, err
	}
	return tickSummary{
		Scanned:   res.Scanned,
		Due:       res.Due,
		Reopened:  res.Reopened,
		Retrying:  res.Retrying,
		Abandoned: res.Abandoned,
	}, nil
}

func main() {
	cfg := appconfig.Load()
	logger := logging.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.StoreBackend == appconfig.BackendMemory {
		logger.Error("the memory store cannot be shared with the webhook service; set STORE_BACKEND")
		os.Exit(1)
	}

	// The store is reused across warm invocations.
	ctx := context.Background()
	store, err := bootstrap.BuildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule store", "error", err)
		os.Exit(1)
	}
	job, err := bootstrap.BuildReconcileJob(ctx, cfg, store, nil, logger)
	if err != nil {
		logger.Error("failed to build reconcile job", "error", err)
		os.Exit(1)
	}

	h := &handler{job: job, logger: logger}
	lambda.Start(h.handle)
}

// Package webhook ingests Help Scout conversation webhooks and turns
// #REOPEN@<date> previews into scheduled reopens.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/optlsnd/helpscout-automation/internal/command"
	"github.com/optlsnd/helpscout-automation/internal/schedule"
	"github.com/optlsnd/helpscout-automation/internal/signature"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Outcome labels reported to metrics.
const (
	OutcomeScheduled        = "scheduled"
	OutcomeIgnored          = "ignored"
	OutcomeUnsigned         = "unsigned"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeBadRequest       = "bad_request"
	OutcomeStoreError       = "store_error"
	OutcomeMethodNotAllowed = "method_not_allowed"
)

// Config controls request authentication and parsing.
type Config struct {
	Secret string
	// RequireSignature rejects unsigned requests with 400. When false an
	// unsigned request is acknowledged with 200 and otherwise ignored.
	RequireSignature bool
	MaxBodyBytes     int64
	// Location is used for dates without an explicit zone. Defaults to UTC.
	Location *time.Location
}

// Recorder receives per-request outcomes. *metrics.WebhookMetrics satisfies it.
type Recorder interface {
	ObserveRequest(outcome string, seconds float64)
	ObserveScheduleWritten()
}

// Handler verifies, parses and persists inbound webhooks.
type Handler struct {
	cfg     Config
	store   schedule.Store
	metrics Recorder
	logger  *logging.Logger
	now     func() time.Time
}

func NewHandler(cfg Config, store schedule.Store, metrics Recorder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Handler{cfg: cfg, store: store, metrics: metrics, logger: logger, now: time.Now}
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := h.handle(w, r)
	if h.metrics != nil {
		h.metrics.ObserveRequest(outcome, time.Since(start).Seconds())
	}
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) string {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return OutcomeMethodNotAllowed
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook: read body failed", "error", err)
		badRequest(w)
		return OutcomeBadRequest
	}

	provided := r.Header.Get(signature.Header)
	if provided == "" {
		if h.cfg.RequireSignature {
			h.logger.Warn("webhook: missing signature")
			badRequest(w)
			return OutcomeUnsigned
		}
		w.WriteHeader(http.StatusOK)
		return OutcomeUnsigned
	}
	if !signature.Verify(h.cfg.Secret, body, provided) {
		h.logger.Warn("webhook: invalid signature")
		badRequest(w)
		return OutcomeInvalidSignature
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("webhook: invalid JSON payload", "error", err)
		badRequest(w)
		return OutcomeBadRequest
	}

	cmd, ok := command.Parse(payload.Preview, h.cfg.Location)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return OutcomeIgnored
	}
	id, err := schedule.NormalizeID(payload.ID.String())
	if err != nil {
		h.logger.Warn("webhook: command without conversation id", "command", string(cmd.Kind))
		badRequest(w)
		return OutcomeBadRequest
	}

	if err := h.apply(r.Context(), id, cmd); err != nil {
		h.logger.Error("webhook: store write failed", "conversation_id", id, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return OutcomeStoreError
	}
	w.WriteHeader(http.StatusOK)
	return OutcomeScheduled
}

func (h *Handler) apply(ctx context.Context, id string, cmd command.Command) error {
	switch cmd.Kind {
	case command.KindReopen:
		s := schedule.New(id, cmd.At, h.now())
		if err := h.store.Put(ctx, s); err != nil {
			return err
		}
		if h.metrics != nil {
			h.metrics.ObserveScheduleWritten()
		}
		h.logger.Info("webhook: reopen scheduled", "conversation_id", id, "due_at", s.DueAt.Format(time.RFC3339))
		return nil
	default:
		return errors.New("webhook: unsupported command " + string(cmd.Kind))
	}
}

func badRequest(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

// Package reconcile reopens conversations whose scheduled reopen is due.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/optlsnd/helpscout-automation/internal/helpscout"
	"github.com/optlsnd/helpscout-automation/internal/schedule"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

// ErrTickInProgress is returned when a tick is requested while another runs.
var ErrTickInProgress = errors.New("reconcile: tick already in progress")

const (
	defaultTimeout     = 5 * time.Minute
	defaultConcurrency = 4
	defaultMaxAttempts = 5
	defaultBaseDelay   = 15 * time.Minute
	maxRetryDelay      = 24 * time.Hour
	bookkeepingTimeout = 10 * time.Second
)

// Tick results reported to metrics.
const (
	ResultIdle    = "idle"
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultError   = "error"
	ResultBusy    = "busy"
)

// Reopen outcomes reported to metrics.
const (
	OutcomeReopened   = "reopened"
	OutcomeRetrying   = "retrying"
	OutcomeAbandoned  = "abandoned"
	OutcomeSuperseded = "superseded"
	OutcomeStoreError = "store_error"
)

// Platform is the subset of the Help Scout client the job calls.
type Platform interface {
	AccessToken(ctx context.Context) (*helpscout.Token, error)
	ReopenConversation(ctx context.Context, conversationID string, token *helpscout.Token) error
}

// Notifier is told when a schedule is abandoned.
type Notifier interface {
	ReopenAbandoned(ctx context.Context, s schedule.ScheduledReopen) error
}

// Recorder receives tick and per-item outcomes. *metrics.ReconcileMetrics satisfies it.
type Recorder interface {
	ObserveTick(result string, seconds float64, notYetDue int)
	ObserveReopen(outcome string)
}

// Options tune a Job. Zero values fall back to defaults.
type Options struct {
	Timeout        time.Duration
	Concurrency    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Result summarizes one tick.
type Result struct {
	Scanned   int
	Due       int
	NotYetDue int
	Reopened  int
	Retrying  int
	Abandoned int
	// Superseded counts due items rewritten by a webhook while the tick ran.
	Superseded int
	// Skipped counts due items not attempted because the tick ran out of time.
	Skipped     int
	StoreErrors int
}

// Job runs reconciliation ticks. Only one tick runs at a time per Job.
type Job struct {
	store    schedule.Store
	platform Platform
	notifier Notifier
	metrics  Recorder
	logger   *logging.Logger
	opts     Options
	now      func() time.Time
	tracer   trace.Tracer
	running  atomic.Bool
}

func NewJob(store schedule.Store, platform Platform, notifier Notifier, metrics Recorder, logger *logging.Logger, opts Options) *Job {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultBaseDelay
	}
	return &Job{
		store:    store,
		platform: platform,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		tracer:   otel.Tracer("helpscout.internal.reconcile"),
	}
}

// WithClock overrides the time source. Intended for tests and backfills.
func (j *Job) WithClock(now func() time.Time) *Job {
	if now != nil {
		j.now = now
	}
	return j
}

// RunOnce performs a single tick: list schedules, reopen every due
// conversation and delete its schedule once the reopen is confirmed.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	if !j.running.CompareAndSwap(false, true) {
		j.observeTick(ResultBusy, 0, 0)
		return Result{}, ErrTickInProgress
	}
	defer j.running.Store(false)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, j.opts.Timeout)
	defer cancel()
	ctx, span := j.tracer.Start(ctx, "reconcile.tick")
	defer span.End()

	res, err := j.run(ctx)
	span.SetAttributes(
		attribute.Int("reconcile.due", res.Due),
		attribute.Int("reconcile.reopened", res.Reopened),
	)

	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Due == 0:
		result = ResultIdle
	case res.Reopened+res.Superseded < res.Due:
		result = ResultPartial
	}
	j.observeTick(result, time.Since(start).Seconds(), res.NotYetDue)

	if err != nil {
		j.logger.Error("reconcile: tick failed", "error", err, "due", res.Due)
		return res, err
	}
	j.logger.Info("reconcile: tick complete",
		"scanned", res.Scanned,
		"due", res.Due,
		"not_yet_due", res.NotYetDue,
		"reopened", res.Reopened,
		"retrying", res.Retrying,
		"abandoned", res.Abandoned,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (j *Job) run(ctx context.Context) (Result, error) {
	var res Result
	now := j.now()

	var due []schedule.ScheduledReopen
	err := j.store.Each(ctx, func(s schedule.ScheduledReopen) error {
		res.Scanned++
		switch {
		case s.Eligible(now):
			due = append(due, s)
		case s.Status != schedule.StatusAbandoned:
			res.NotYetDue++
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("reconcile: list schedules: %w", err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	token, err := j.platform.AccessToken(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: access token: %w", err)
	}

	var mu sync.Mutex
	tally := func(outcome string) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case OutcomeReopened:
			res.Reopened++
		case OutcomeRetrying:
			res.Retrying++
		case OutcomeAbandoned:
			res.Abandoned++
		case OutcomeSuperseded:
			res.Superseded++
		case OutcomeStoreError:
			res.StoreErrors++
		default:
			res.Skipped++
			return
		}
		if j.metrics != nil {
			j.metrics.ObserveReopen(outcome)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(j.opts.Concurrency)
	for _, s := range due {
		g.Go(func() error {
			tally(j.process(ctx, s, token, now))
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

// process reopens one conversation and settles its schedule. It returns the
// outcome label, or "" when the item was not attempted.
func (j *Job) process(ctx context.Context, s schedule.ScheduledReopen, token *helpscout.Token, now time.Time) string {
	if ctx.Err() != nil {
		return ""
	}
	id := s.ConversationID
	reopenErr := j.platform.ReopenConversation(ctx, id, token)

	// Settle the schedule even if the tick deadline expired mid-call.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if reopenErr == nil {
		deleted, err := j.store.DeleteIfDue(bctx, id, s.DueAt)
		if err != nil {
			j.logger.Error("reconcile: delete after reopen failed", "conversation_id", id, "error", err)
			return OutcomeStoreError
		}
		if !deleted {
			j.logger.Info("reconcile: schedule changed during tick, keeping it", "conversation_id", id)
			return OutcomeSuperseded
		}
		j.logger.Info("reconcile: conversation reopened", "conversation_id", id, "due_at", s.DueAt.Format(time.RFC3339))
		return OutcomeReopened
	}

	attempts := s.Attempts + 1
	abandon := attempts >= j.opts.MaxAttempts || !helpscout.IsRetryable(reopenErr)
	f := schedule.Failure{
		Attempts:  attempts,
		LastError: reopenErr.Error(),
		Abandoned: abandon,
		At:        now,
	}
	if !abandon {
		f.NextAttemptAt = now.Add(j.nextDelay(s.Attempts))
	}

	updated, err := j.store.RecordFailure(bctx, id, s.DueAt, f)
	if err != nil {
		j.logger.Error("reconcile: record failure failed", "conversation_id", id, "error", err, "reopen_error", reopenErr)
		return OutcomeStoreError
	}
	if !updated {
		return OutcomeSuperseded
	}

	if !abandon {
		j.logger.Warn("reconcile: reopen failed, will retry",
			"conversation_id", id,
			"attempts", attempts,
			"next_attempt_at", f.NextAttemptAt.Format(time.RFC3339),
			"error", reopenErr,
		)
		return OutcomeRetrying
	}

	j.logger.Error("reconcile: reopen abandoned",
		"conversation_id", id,
		"attempts", attempts,
		"error", reopenErr,
	)
	if j.notifier != nil {
		abandoned := s
		abandoned.Attempts = attempts
		abandoned.LastError = f.LastError
		abandoned.Status = schedule.StatusAbandoned
		if err := j.notifier.ReopenAbandoned(bctx, abandoned); err != nil {
			j.logger.Error("reconcile: abandon notification failed", "conversation_id", id, "error", err)
		}
	}
	return OutcomeAbandoned
}

func (j *Job) nextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// Checked before shifting so huge base delays cannot overflow.
	if attempts > 16 || j.opts.RetryBaseDelay > maxRetryDelay>>attempts {
		return maxRetryDelay
	}
	return j.opts.RetryBaseDelay << attempts
}

func (j *Job) observeTick(result string, seconds float64, notYetDue int) {
	if j.metrics != nil {
		j.metrics.ObserveTick(result, seconds, notYetDue)
	}
}

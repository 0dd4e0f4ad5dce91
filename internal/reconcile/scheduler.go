package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

// DefaultSchedule fires every three hours on the hour.
const DefaultSchedule = "0 */3 * * *"

// Runner executes one reconciliation tick. *Job satisfies it.
type Runner interface {
	RunOnce(ctx context.Context) (Result, error)
}

// Scheduler triggers a Runner on a cron schedule. A firing that overlaps a
// still-running tick is skipped.
type Scheduler struct {
	runner     Runner
	spec       string
	runOnStart bool
	logger     *logging.Logger

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulerConfig configures NewScheduler.
type SchedulerConfig struct {
	// Spec is a standard five-field cron expression or a descriptor such as "@hourly".
	Spec       string
	Location   *time.Location
	RunOnStart bool
}

func NewScheduler(runner Runner, cfg SchedulerConfig, logger *logging.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("reconcile: runner required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	spec := strings.TrimSpace(cfg.Spec)
	if spec == "" {
		spec = DefaultSchedule
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{runner: runner, spec: spec, runOnStart: cfg.RunOnStart, logger: logger}
	s.c = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	if _, err := s.c.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("reconcile: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing ticks. ctx bounds every tick the scheduler runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c.Start()
	s.logger.Info("reconcile scheduler started", "schedule", s.spec, "next_run", s.Next().Format(time.RFC3339))

	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire()
		}()
	}
}

// Stop halts the schedule and waits for a running tick to finish or for ctx
// to expire, whichever comes first. Outstanding ticks are then cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-s.c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()

	defer cancel()
	select {
	case <-done:
		s.logger.Info("reconcile scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a tick immediately, outside the cron schedule. It returns
// ErrTickInProgress if a tick is already running.
func (s *Scheduler) Trigger(ctx context.Context) (Result, error) {
	return s.runner.RunOnce(ctx)
}

// Next reports when the schedule fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.runner.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrTickInProgress) {
			s.logger.Warn("reconcile: previous tick still running, skipping")
			return
		}
		s.logger.Error("reconcile: scheduled tick failed", "error", err)
	}
}

// cronLogger adapts *logging.Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

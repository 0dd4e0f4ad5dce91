package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) RunOnce(ctx context.Context) (Result, error) {
	r.calls.Add(1)
	return Result{Due: 1, Reopened: 1}, r.err
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil, SchedulerConfig{}, logging.Discard())
	assert.Error(t, err)

	_, err = NewScheduler(&countingRunner{}, SchedulerConfig{Spec: "every tuesday"}, logging.Discard())
	assert.ErrorContains(t, err, "invalid schedule")

	s, err := NewScheduler(&countingRunner{}, SchedulerConfig{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, s.spec)
}

func TestScheduler_NextRunEveryThreeHours(t *testing.T) {
	s, err := NewScheduler(&countingRunner{}, SchedulerConfig{}, logging.Discard())
	require.NoError(t, err)

	s.Start(context.Background())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	next := s.Next().UTC()
	require.False(t, next.IsZero())
	assert.Zero(t, next.Minute())
	assert.Zero(t, next.Hour()%3)
	assert.True(t, next.After(time.Now()))
	assert.True(t, next.Before(time.Now().Add(3*time.Hour+time.Minute)))
}

func TestScheduler_Trigger(t *testing.T) {
	runner := &countingRunner{}
	s, err := NewScheduler(runner, SchedulerConfig{Spec: "@daily"}, logging.Discard())
	require.NoError(t, err)

	res, err := s.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reopened)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_RunOnStart(t *testing.T) {
	runner := &countingRunner{err: ErrTickInProgress}
	s, err := NewScheduler(runner, SchedulerConfig{Spec: "@daily", RunOnStart: true}, logging.Discard())
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	s, err := NewScheduler(&countingRunner{}, SchedulerConfig{Spec: "@hourly"}, logging.Discard())
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
}

package reconcile

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlsnd/helpscout-automation/internal/helpscout"
	"github.com/optlsnd/helpscout-automation/internal/schedule"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

type fakePlatform struct {
	mu       sync.Mutex
	tokenErr error
	tokens   int
	reopened []string
	fail     map[string]error
	block    chan struct{}
	onReopen func(id string)
}

func (f *fakePlatform) AccessToken(ctx context.Context) (*helpscout.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens++
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &helpscout.Token{AccessToken: "tok", TokenType: "bearer", ExpiresIn: 7200}, nil
}

func (f *fakePlatform) ReopenConversation(ctx context.Context, id string, token *helpscout.Token) error {
	if f.block != nil {
		<-f.block
	}
	if f.onReopen != nil {
		f.onReopen(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == nil || token.AccessToken != "tok" {
		return errors.New("missing token")
	}
	f.reopened = append(f.reopened, id)
	if err, ok := f.fail[id]; ok {
		return err
	}
	return nil
}

func (f *fakePlatform) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reopened...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	abandoned []schedule.ScheduledReopen
}

func (n *fakeNotifier) ReopenAbandoned(ctx context.Context, s schedule.ScheduledReopen) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.abandoned = append(n.abandoned, s)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	ticks    []string
	outcomes map[string]int
}

func (r *fakeRecorder) ObserveTick(result string, seconds float64, notYetDue int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, result)
}

func (r *fakeRecorder) ObserveReopen(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func put(t *testing.T, store schedule.Store, id string, due time.Time) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), schedule.New(id, due, date(2020, 1, 1))))
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newJob(store schedule.Store, p Platform, n Notifier, rec Recorder, clk *clock) *Job {
	return NewJob(store, p, n, rec, logging.Discard(), Options{RetryBaseDelay: time.Hour}).WithClock(clk.Now)
}

func TestRunOnce_DueAndNotYetDue(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "1", date(2025, 1, 1))
	put(t, store, "2", date(2025, 6, 1))
	put(t, store, "3", date(2027, 1, 1))
	put(t, store, "4", date(2026, 1, 1)) // due exactly now

	p := &fakePlatform{}
	rec := &fakeRecorder{}
	job := newJob(store, p, nil, rec, &clock{t: date(2026, 1, 1)})

	res, err := job.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 3, res.Due)
	assert.Equal(t, 1, res.NotYetDue)
	assert.Equal(t, 3, res.Reopened)
	assert.Equal(t, 1, p.tokens)
	assert.ElementsMatch(t, []string{"1", "2", "4"}, p.calls())

	remaining, err := schedule.List(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "3", remaining[0].ConversationID)
	assert.Equal(t, date(2027, 1, 1), remaining[0].DueAt)
	assert.Zero(t, remaining[0].Attempts)

	assert.Equal(t, []string{ResultSuccess}, rec.ticks)
	assert.Equal(t, 3, rec.outcomes[OutcomeReopened])
}

func TestRunOnce_NothingDueSkipsPlatform(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "1", date(2030, 1, 1))

	p := &fakePlatform{}
	rec := &fakeRecorder{}
	res, err := newJob(store, p, nil, rec, &clock{t: date(2026, 1, 1)}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Due)
	assert.Equal(t, 1, res.NotYetDue)
	assert.Zero(t, p.tokens)
	assert.Equal(t, []string{ResultIdle}, rec.ticks)
}

func TestRunOnce_EndToEndScenario(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "42", date(2030, 1, 1))

	p := &fakePlatform{}
	clk := &clock{t: date(2029, 1, 1)}
	job := newJob(store, p, nil, nil, clk)

	_, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p.calls())
	got, err := store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, date(2030, 1, 1), got.DueAt)

	clk.Set(date(2031, 1, 1))
	res, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reopened)
	assert.Equal(t, []string{"42"}, p.calls())
	_, err = store.Get(context.Background(), "42")
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestRunOnce_FailedReopenIsKeptAndRetried(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "7", date(2025, 1, 1))

	p := &fakePlatform{fail: map[string]error{
		"7": &helpscout.APIError{Op: "reopen conversation 7", StatusCode: 503, Body: "unavailable"},
	}}
	rec := &fakeRecorder{}
	clk := &clock{t: date(2026, 1, 1)}
	job := newJob(store, p, nil, rec, clk)

	res, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retrying)
	assert.Zero(t, res.Reopened)

	got, err := store.Get(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, clk.Now().Add(time.Hour), got.NextAttemptAt)
	assert.Contains(t, got.LastError, "status 503")
	assert.Equal(t, schedule.StatusPending, got.Status)

	// Inside the backoff window the item is not attempted again.
	clk.Set(date(2026, 1, 1).Add(30 * time.Minute))
	res, err = job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Len(t, p.calls(), 1)

	// After the backoff the platform has recovered.
	p.mu.Lock()
	p.fail = nil
	p.mu.Unlock()
	clk.Set(date(2026, 1, 1).Add(2 * time.Hour))
	res, err = job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reopened)
	_, err = store.Get(context.Background(), "7")
	assert.ErrorIs(t, err, schedule.ErrNotFound)

	assert.Equal(t, []string{ResultPartial, ResultIdle, ResultSuccess}, rec.ticks)
}

func TestRunOnce_AbandonsAfterMaxAttempts(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "9", date(2025, 1, 1))

	p := &fakePlatform{fail: map[string]error{"9": errors.New("connection reset")}}
	n := &fakeNotifier{}
	clk := &clock{t: date(2026, 1, 1)}
	job := NewJob(store, p, n, nil, logging.Discard(), Options{MaxAttempts: 3, RetryBaseDelay: time.Minute}).WithClock(clk.Now)

	for i := 0; i < 3; i++ {
		_, err := job.RunOnce(context.Background())
		require.NoError(t, err)
		clk.Set(clk.Now().Add(24 * time.Hour))
	}

	got, err := store.Get(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusAbandoned, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.True(t, got.NextAttemptAt.IsZero())

	require.Len(t, n.abandoned, 1)
	assert.Equal(t, "9", n.abandoned[0].ConversationID)
	assert.Equal(t, 3, n.abandoned[0].Attempts)

	// Abandoned schedules are never retried.
	res, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Len(t, p.calls(), 3)
}

func TestRunOnce_NotFoundAbandonsImmediately(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "404", date(2025, 1, 1))

	p := &fakePlatform{fail: map[string]error{
		"404": &helpscout.APIError{Op: "reopen conversation 404", StatusCode: 404},
	}}
	n := &fakeNotifier{}
	res, err := newJob(store, p, n, nil, &clock{t: date(2026, 1, 1)}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Abandoned)
	got, err := store.Get(context.Background(), "404")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusAbandoned, got.Status)
	assert.Len(t, n.abandoned, 1)
}

func TestRunOnce_TokenFailureKeepsEverything(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "1", date(2025, 1, 1))
	put(t, store, "2", date(2025, 2, 1))

	p := &fakePlatform{tokenErr: &helpscout.APIError{Op: "access token", StatusCode: 401}}
	rec := &fakeRecorder{}
	_, err := newJob(store, p, nil, rec, &clock{t: date(2026, 1, 1)}).RunOnce(context.Background())
	require.Error(t, err)

	var apiErr *helpscout.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Empty(t, p.calls())

	items, err := schedule.List(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, s := range items {
		assert.Zero(t, s.Attempts)
	}
	assert.Equal(t, []string{ResultError}, rec.ticks)
}

func TestRunOnce_MixedOutcomes(t *testing.T) {
	store := schedule.NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		put(t, store, id, date(2025, 1, 1))
	}
	p := &fakePlatform{fail: map[string]error{"b": errors.New("timeout")}}

	res, err := newJob(store, p, nil, nil, &clock{t: date(2026, 1, 1)}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Reopened)
	assert.Equal(t, 1, res.Retrying)

	items, err := schedule.List(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ConversationID)
}

func TestRunOnce_ScheduleRewrittenDuringTickSurvives(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "5", date(2025, 1, 1))

	p := &fakePlatform{}
	p.onReopen = func(id string) {
		put(t, store, id, date(2032, 1, 1))
	}
	res, err := newJob(store, p, nil, nil, &clock{t: date(2026, 1, 1)}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Superseded)

	got, err := store.Get(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, date(2032, 1, 1), got.DueAt)
}

func TestRunOnce_SingleFlight(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "1", date(2025, 1, 1))

	p := &fakePlatform{block: make(chan struct{})}
	rec := &fakeRecorder{}
	job := newJob(store, p, nil, rec, &clock{t: date(2026, 1, 1)})

	done := make(chan error, 1)
	go func() {
		_, err := job.RunOnce(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return job.running.Load() }, time.Second, 5*time.Millisecond)
	_, err := job.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(p.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"1"}, p.calls())
}

func TestRunOnce_ExpiredDeadlineAbortsTick(t *testing.T) {
	store := schedule.NewMemoryStore()
	put(t, store, "1", date(2025, 1, 1))

	p := &fakePlatform{}
	job := NewJob(store, p, nil, nil, logging.Discard(), Options{Timeout: time.Nanosecond}).WithClock((&clock{t: date(2026, 1, 1)}).Now)

	_, err := job.RunOnce(context.Background())
	assert.Error(t, err)

	got, err := store.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Zero(t, got.Attempts)
}

func TestNextDelay(t *testing.T) {
	job := NewJob(nil, nil, nil, nil, logging.Discard(), Options{RetryBaseDelay: 15 * time.Minute})

	assert.Equal(t, 15*time.Minute, job.nextDelay(0))
	assert.Equal(t, 30*time.Minute, job.nextDelay(1))
	assert.Equal(t, 2*time.Hour, job.nextDelay(3))
	assert.Equal(t, 24*time.Hour, job.nextDelay(7))
	assert.Equal(t, 24*time.Hour, job.nextDelay(40))
	assert.Equal(t, 15*time.Minute, job.nextDelay(-1))
}

func TestNextDelayLargeBaseNeverOverflows(t *testing.T) {
	job := NewJob(nil, nil, nil, nil, logging.Discard(), Options{RetryBaseDelay: time.Duration(math.MaxInt64 / 2)})

	for attempts := 0; attempts <= 20; attempts++ {
		assert.Equal(t, 24*time.Hour, job.nextDelay(attempts), "attempts=%d", attempts)
	}

	job = NewJob(nil, nil, nil, nil, logging.Discard(), Options{RetryBaseDelay: 1000 * time.Hour})
	assert.Equal(t, 24*time.Hour, job.nextDelay(2))
}

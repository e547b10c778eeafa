package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/notify"
	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
	"github.com/tolkhub/jobwatch/internal/pkg/clock"
	"github.com/tolkhub/jobwatch/internal/reconciler"
)

type fakeBackend struct {
	mu      sync.Mutex
	active  []*model.TranslationJob
	jobs    map[string]*model.TranslationJob
	err     error
	calls   int
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeBackend) FindActiveJobs(_ context.Context, _ string) ([]*model.TranslationJob, error) {
	f.mu.Lock()
	f.calls++
	gate, started, err := f.gate, f.started, f.err
	active := make([]*model.TranslationJob, 0, len(f.active))
	for _, j := range f.active {
		active = append(active, j.Clone())
	}
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return active, nil
}

func (f *fakeBackend) GetJob(_ context.Context, id string) (*model.TranslationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		return j.Clone(), nil
	}
	return nil, apperr.NotFound("job", id)
}

// finish moves the job out of the active set with its final state.
func (f *fakeBackend) finish(j *model.TranslationJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	f.jobs[j.ID] = j
}

func (f *fakeBackend) setActive(jobs ...*model.TranslationJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = jobs
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
}

func (f *fakeBackend) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type observations struct {
	mu  sync.Mutex
	ids []string
}

func (o *observations) OnObserve(_ context.Context, active *model.TranslationJob) *model.TranslationJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	if active == nil {
		o.ids = append(o.ids, "")
		return nil
	}
	o.ids = append(o.ids, active.ID)
	return nil
}

func (o *observations) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ids...)
}

func job(id string, status model.JobStatus) *model.TranslationJob {
	return &model.TranslationJob{ID: id, ProjectID: "p1", TargetLocale: "fr", Status: status}
}

func newCache(t *testing.T) *cache.Client {
	t.Helper()
	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	return cache.NewClient(store)
}

func setupPoller(t *testing.T, opts Options) (*Poller, *clock.Fake, *fakeBackend) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	backend := &fakeBackend{jobs: make(map[string]*model.TranslationJob)}
	opts.Clock = clk
	p := New("p1", newCache(t), backend, opts)
	t.Cleanup(p.Close)
	return p, clk, backend
}

func TestPoller_Interval(t *testing.T) {
	p, _, _ := setupPoller(t, Options{})

	expected := []time.Duration{2, 2, 3, 5, 5, 5, 5, 5}
	for attempt, want := range expected {
		assert.Equal(t, want*time.Second, p.Interval(attempt), "attempt %d", attempt)
	}
}

func TestPoller_IdleWithoutActiveJob(t *testing.T) {
	p, clk, _ := setupPoller(t, Options{})

	require.NoError(t, p.SetEnabled(context.Background(), true))

	assert.False(t, p.IsPolling())
	assert.False(t, p.HasActiveJob())
	assert.Empty(t, clk.Pending())
}

func TestPoller_EntersPolling(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})
	backend.setActive(job("j1", model.JobStatusRunning))

	require.NoError(t, p.SetEnabled(context.Background(), true))

	assert.True(t, p.IsPolling())
	assert.True(t, p.HasActiveJob())
	assert.True(t, p.IsJobRunning())
	assert.False(t, p.IsJobFinished())
	assert.Equal(t, 0, p.PollAttempt())
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Pending())
}

func TestPoller_TickSchedule(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	for i := 0; i < 8; i++ {
		before := p.PollAttempt()
		delay, fired := clk.FireNext()
		require.True(t, fired)
		assert.Equal(t, p.Interval(before), delay, "tick %d", i)
		assert.Equal(t, before+1, p.PollAttempt())
		assert.Len(t, clk.Pending(), 1, "exactly one timer armed")
	}
}

func TestPoller_StopsWhenJobGone(t *testing.T) {
	obs := &observations{}
	p, clk, backend := setupPoller(t, Options{Observer: obs})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	clk.FireNext()
	backend.finish(job("j1", model.JobStatusCompleted))
	clk.FireNext()

	assert.False(t, p.IsPolling())
	assert.False(t, p.HasActiveJob())
	assert.Empty(t, clk.Pending())
	assert.Equal(t, []string{"j1", "j1", ""}, obs.all())
}

func TestPoller_StopPollingTwice(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))
	clk.FireNext()
	clk.FireNext()

	assert.NotPanics(t, func() {
		p.StopPolling()
		p.StopPolling()
	})
	assert.False(t, p.IsPolling())
	assert.Equal(t, 0, p.PollAttempt())
	assert.Empty(t, clk.Pending())
}

func TestPoller_MaxAttempts(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	ticks := 0
	for {
		if _, fired := clk.FireNext(); !fired {
			break
		}
		ticks++
		require.LessOrEqual(t, ticks, 200, "poller never stopped")
	}

	assert.Equal(t, 180, ticks)
	assert.False(t, p.IsPolling())
	assert.True(t, p.HasActiveJob(), "the job is still active, only polling gave up")
	assert.Equal(t, 180, p.PollAttempt())

	// a plain refresh does not restart an exhausted schedule
	require.NoError(t, p.Refresh(context.Background()))
	assert.Empty(t, clk.Pending())
}

func TestPoller_CustomMaxAttempts(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{MaxAttempts: 3, Intervals: []time.Duration{time.Second}})
	backend.setActive(job("j1", model.JobStatusPending))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	clk.Advance(time.Minute)

	assert.Equal(t, 3, p.PollAttempt())
	assert.Equal(t, 4, backend.callCount(), "initial observation plus three ticks")
}

func TestPoller_FailedTickCountsAndContinues(t *testing.T) {
	obs := &observations{}
	p, clk, backend := setupPoller(t, Options{Observer: obs})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	backend.setErr(errors.New("connection reset"))
	clk.FireNext()

	assert.Equal(t, 1, p.PollAttempt())
	assert.True(t, p.IsPolling())
	assert.True(t, p.HasActiveJob(), "last good observation is kept")
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Pending())
	assert.Equal(t, []string{"j1"}, obs.all(), "failed tick is not an observation")

	backend.setErr(nil)
	clk.FireNext()
	assert.Equal(t, 2, p.PollAttempt())
	assert.Equal(t, []string{"j1", "j1"}, obs.all())
}

func TestPoller_GenerationGuard(t *testing.T) {
	obs := &observations{}
	p, clk, backend := setupPoller(t, Options{Observer: obs})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	backend.mu.Lock()
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{}, 1)
	gate, started := backend.gate, backend.started
	backend.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		clk.FireNext()
	}()
	<-started

	p.StopPolling()
	close(gate)
	<-done

	assert.False(t, p.IsPolling())
	assert.Equal(t, 0, p.PollAttempt())
	assert.Empty(t, clk.Pending(), "stale tick does not re-arm")
	assert.Equal(t, []string{"j1"}, obs.all(), "stale tick result is discarded")
}

func TestPoller_StartPolling(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})

	require.NoError(t, p.SetEnabled(context.Background(), true))
	assert.False(t, p.StartPolling(), "no active job")

	backend.setActive(job("j1", model.JobStatusPending))
	require.NoError(t, p.Refresh(context.Background()))
	assert.False(t, p.StartPolling(), "pending job")

	backend.setActive(job("j1", model.JobStatusRunning))
	clk.FireNext()
	clk.FireNext()
	clk.FireNext()
	require.Equal(t, 3, p.PollAttempt())

	calls := backend.callCount()
	assert.True(t, p.StartPolling())
	assert.Equal(t, 0, p.PollAttempt())
	assert.Equal(t, calls+1, backend.callCount(), "immediate refetch")
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Pending())
}

func TestPoller_StartPollingAfterExhaustion(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{MaxAttempts: 2})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))
	clk.FireNext()
	clk.FireNext()
	require.False(t, p.IsPolling())

	assert.True(t, p.StartPolling())
	assert.True(t, p.IsPolling())
	assert.Equal(t, 0, p.PollAttempt())
}

func TestPoller_RefreshNeverArmsSecondTimer(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	require.NoError(t, p.Refresh(context.Background()))
	require.NoError(t, p.Refresh(context.Background()))

	assert.Len(t, clk.Pending(), 1)
}

func TestPoller_RefreshStopsWhenJobGone(t *testing.T) {
	obs := &observations{}
	p, clk, backend := setupPoller(t, Options{Observer: obs})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	backend.finish(job("j1", model.JobStatusCancelled))
	require.NoError(t, p.Refresh(context.Background()))

	assert.False(t, p.IsPolling())
	assert.Empty(t, clk.Pending())
	assert.Equal(t, []string{"j1", ""}, obs.all())
}

func TestPoller_Disable(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))
	clk.FireNext()

	require.NoError(t, p.SetEnabled(context.Background(), false))

	assert.False(t, p.IsPolling())
	assert.Equal(t, 0, p.PollAttempt())
	assert.Empty(t, clk.Pending())
	assert.ErrorIs(t, p.Refresh(context.Background()), ErrDisabled)

	require.NoError(t, p.SetEnabled(context.Background(), true))
	assert.True(t, p.IsPolling(), "re-enabling observes again")
}

func TestPoller_Close(t *testing.T) {
	p, clk, backend := setupPoller(t, Options{})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	p.Close()
	p.Close()

	_, fired := clk.FireNext()
	assert.False(t, fired)
	assert.ErrorIs(t, p.Refresh(context.Background()), ErrClosed)
	assert.ErrorIs(t, p.SetEnabled(context.Background(), true), ErrClosed)
	assert.False(t, p.StartPolling())
}

func TestPoller_MergesHint(t *testing.T) {
	backend := &fakeBackend{jobs: make(map[string]*model.TranslationJob)}
	c := newCache(t)
	rec := reconciler.New(c, backend, notify.Func(func(context.Context, notify.Notification) error { return nil }))
	rec.RecordHint("j1", 42)

	clk := clock.NewFake(time.Now())
	p := New("p1", c, backend, Options{Clock: clk, Hints: rec})
	defer p.Close()

	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))
	require.NotNil(t, p.Job().TotalKeys)
	assert.Equal(t, 42, *p.Job().TotalKeys)

	withTotal := job("j1", model.JobStatusRunning)
	total := 50
	withTotal.TotalKeys = &total
	backend.setActive(withTotal)
	clk.FireNext()
	assert.Equal(t, 50, *p.Job().TotalKeys)
}

// The reconciler sees the poller already idle and notifies exactly once.
func TestPoller_ReconcilesOnceAfterLeavingPolling(t *testing.T) {
	backend := &fakeBackend{jobs: make(map[string]*model.TranslationJob)}
	c := newCache(t)
	clk := clock.NewFake(time.Now())

	var (
		p          *Poller
		mu         sync.Mutex
		sent       []notify.Notification
		pollingNow []bool
	)
	rec := reconciler.New(c, backend, notify.Func(func(_ context.Context, n notify.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, n)
		pollingNow = append(pollingNow, p.IsPolling())
		return nil
	}))
	p = New("p1", c, backend, Options{Clock: clk, Observer: rec.Track("p1", "user-1"), Hints: rec})
	defer p.Close()

	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))
	clk.FireNext()

	done := job("j1", model.JobStatusCompleted)
	done.CompletedKeys = 5
	backend.finish(done)
	clk.FireNext()
	require.NoError(t, p.Refresh(context.Background()))
	require.NoError(t, p.Refresh(context.Background()))

	assert.True(t, p.IsJobFinished())
	require.NotNil(t, p.Finished())
	assert.Equal(t, 5, p.Finished().CompletedKeys)
	state := p.State()
	assert.True(t, state.IsJobFinished)
	assert.Nil(t, state.Job)
	require.NotNil(t, state.FinishedJob)
	assert.Equal(t, model.JobStatusCompleted, state.FinishedJob.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.KindSuccess, sent[0].Kind)
	assert.Equal(t, "user-1", sent[0].UserID)
	assert.Equal(t, []bool{false}, pollingNow)
}

// A refresh whose fetch started while the job was running answers after a tick saw the job
// finish. Its result is older than the tick's and must not revive the job.
func TestPoller_RefreshOlderThanTickIsDropped(t *testing.T) {
	backend := &fakeBackend{jobs: make(map[string]*model.TranslationJob)}
	c := newCache(t)
	clk := clock.NewFake(time.Now())

	var (
		mu   sync.Mutex
		sent []notify.Notification
	)
	rec := reconciler.New(c, backend, notify.Func(func(_ context.Context, n notify.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, n)
		return nil
	}))
	p := New("p1", c, backend, Options{Clock: clk, Observer: rec.Track("p1", "user-1"), Hints: rec})
	defer p.Close()

	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	backend.mu.Lock()
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{}, 1)
	gate, started := backend.gate, backend.started
	backend.mu.Unlock()

	refreshed := make(chan error, 1)
	go func() {
		refreshed <- p.Refresh(context.Background())
	}()
	<-started

	backend.mu.Lock()
	backend.gate, backend.started = nil, nil
	backend.mu.Unlock()

	backend.finish(job("j1", model.JobStatusCompleted))
	_, fired := clk.FireNext()
	require.True(t, fired)
	require.False(t, p.IsPolling())

	close(gate)
	require.NoError(t, <-refreshed)

	assert.False(t, p.IsPolling())
	assert.False(t, p.HasActiveJob())
	assert.True(t, p.IsJobFinished())
	assert.Empty(t, clk.Pending(), "schedule is not re-armed")
	_, fired = clk.FireNext()
	assert.False(t, fired)
	require.NoError(t, p.Refresh(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "j1", sent[0].JobID)
	assert.Equal(t, notify.KindSuccess, sent[0].Kind)
}

// A tick that started before a refresh answers after it; the refresh's newer result stands.
func TestPoller_TickOlderThanRefreshKeepsSchedule(t *testing.T) {
	obs := &observations{}
	p, clk, backend := setupPoller(t, Options{Observer: obs})
	backend.setActive(job("j1", model.JobStatusRunning))
	require.NoError(t, p.SetEnabled(context.Background(), true))

	backend.mu.Lock()
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{}, 1)
	gate, started := backend.gate, backend.started
	backend.mu.Unlock()

	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		clk.FireNext()
	}()
	<-started

	backend.mu.Lock()
	backend.gate, backend.started = nil, nil
	backend.mu.Unlock()

	withTotal := job("j1", model.JobStatusRunning)
	withTotal.TotalKeys = intPtr(7)
	backend.setActive(withTotal)
	require.NoError(t, p.Refresh(context.Background()))

	close(gate)
	<-ticked

	assert.True(t, p.IsPolling())
	assert.Equal(t, 1, p.PollAttempt())
	assert.Len(t, clk.Pending(), 1)
	require.NotNil(t, p.Job().TotalKeys)
	assert.Equal(t, 7, *p.Job().TotalKeys, "older tick result does not overwrite the refresh")
	assert.Equal(t, []string{"j1", "j1"}, obs.all(), "older tick is not observed")
}

func intPtr(v int) *int { return &v }

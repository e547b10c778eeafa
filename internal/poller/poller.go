// Package poller watches the active translation job of one project with a backoff schedule.
//
// A Poller is either Idle or Polling. It enters Polling when the active-job query returns a
// pending or running job and leaves it when the query comes back empty, when the attempt budget
// runs out, or when it is stopped. Every stop or restart bumps a generation counter; a tick or
// refresh whose generation moved while its fetch was in flight is discarded. Every fetch also
// takes a sequence number before it starts, and a result older than the last accepted one is
// dropped, so a slow refresh can never bring back a job a later tick already saw finish.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/observability"
	"github.com/tolkhub/jobwatch/internal/pkg/clock"
)

var (
	ErrDisabled = errors.New("poller disabled")
	ErrClosed   = errors.New("poller closed")
)

// ActiveJobs 查询项目的活跃任务（pending/running），按创建时间倒序
type ActiveJobs interface {
	FindActiveJobs(ctx context.Context, projectID string) ([]*model.TranslationJob, error)
}

// Observer is called after every accepted observation with the active job, or nil. Calls are
// serialized and arrive in fetch order. It returns the final record of a job that just left the
// active view, or nil.
type Observer interface {
	OnObserve(ctx context.Context, active *model.TranslationJob) *model.TranslationJob
}

// HintMerger fills client-side estimates into jobs the server has not finished describing.
type HintMerger interface {
	MergeHint(job *model.TranslationJob) *model.TranslationJob
}

type Options struct {
	Intervals   []time.Duration
	MaxAttempts int
	Clock       clock.Clock
	Observer    Observer
	Hints       HintMerger
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

type Poller struct {
	projectID string
	cache     *cache.Client
	jobs      ActiveJobs

	intervals   []time.Duration
	maxAttempts int
	clock       clock.Clock
	observer    Observer
	hints       HintMerger
	metrics     *observability.Metrics
	logger      *slog.Logger

	// observeMu serializes observer calls. Lock order: observeMu, then mu.
	observeMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	enabled   bool
	closed    bool
	gen       uint64
	seq       uint64 // last sequence handed to a fetch
	accepted  uint64 // sequence of the last accepted result
	observed  uint64 // sequence of the last result passed to the observer
	attempt   int
	timer     clock.Timer
	ticking   bool
	exhausted bool
	job       *model.TranslationJob
	finished  *model.TranslationJob
}

func New(projectID string, c *cache.Client, jobs ActiveJobs, opts Options) *Poller {
	p := &Poller{
		projectID:   projectID,
		cache:       c,
		jobs:        jobs,
		intervals:   opts.Intervals,
		maxAttempts: opts.MaxAttempts,
		clock:       opts.Clock,
		observer:    opts.Observer,
		hints:       opts.Hints,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		ctx:         context.Background(),
	}
	if len(p.intervals) == 0 {
		p.intervals = config.DefaultPollIntervals
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = config.DefaultPollMaxAttempts
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("projectId", projectID)
	return p
}

// Interval returns the delay before the tick that follows attempt.
func (p *Poller) Interval(attempt int) time.Duration {
	i := attempt
	if i >= len(p.intervals) {
		i = len(p.intervals) - 1
	}
	return p.intervals[i]
}

// SetEnabled turns the active-job query on or off. Enabling runs an immediate observation with
// ctx, which is also used by every later tick. Disabling clears the timer and the attempt count.
func (p *Poller) SetEnabled(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !enabled {
		if p.enabled {
			p.enabled = false
			p.stopLocked(ctx, observability.StopManual)
		}
		p.mu.Unlock()
		return nil
	}
	wasEnabled := p.enabled
	p.enabled = true
	p.ctx = ctx
	p.mu.Unlock()

	if wasEnabled {
		return nil
	}
	return p.Refresh(ctx)
}

// Refresh performs one observation outside the tick schedule. It arms the schedule when it
// finds an active job and nothing is armed yet, and never arms a second timer.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.enabled {
		p.mu.Unlock()
		return ErrDisabled
	}
	gen := p.gen
	seq := p.nextSeqLocked()
	p.mu.Unlock()

	job, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("poller: refresh failed", "error", err)
		return err
	}

	p.mu.Lock()
	if gen != p.gen || !p.enabled || seq < p.accepted {
		p.mu.Unlock()
		return nil
	}
	p.accepted = seq
	p.job = job
	active := activeOf(job)
	switch {
	case active == nil:
		if p.pollingLocked() {
			p.stopScheduleLocked(ctx, observability.StopIdle)
			gen = p.gen
		}
		p.exhausted = false
	case p.pollingLocked():
	case p.exhausted:
	default:
		p.attempt = 0
		p.armLocked()
	}
	p.mu.Unlock()

	p.observe(ctx, gen, seq, active)
	return nil
}

// StopPolling clears the timer and resets the attempt count. Safe to call repeatedly.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(p.ctx, observability.StopManual)
}

// StartPolling restarts the schedule from attempt 0 with an immediate refetch. It does nothing
// unless the observed active job is running, and reports whether it restarted.
func (p *Poller) StartPolling() bool {
	p.mu.Lock()
	if p.closed || !p.enabled || p.job == nil || p.job.Status != model.JobStatusRunning {
		p.mu.Unlock()
		return false
	}
	p.bumpLocked()
	p.attempt = 0
	p.exhausted = false
	gen := p.gen
	ctx := p.ctx
	p.mu.Unlock()

	if err := p.Refresh(ctx); err != nil {
		// the refetch failed but the schedule still resumes
		p.mu.Lock()
		if gen == p.gen && p.enabled && !p.pollingLocked() {
			p.armLocked()
		}
		p.mu.Unlock()
	}
	return true
}

// Close stops the poller for good.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stopLocked(p.ctx, observability.StopManual)
	p.enabled = false
	p.closed = true
}

func (p *Poller) tick(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.closed || !p.enabled {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.ticking = true
	p.attempt++
	attempt := p.attempt
	seq := p.nextSeqLocked()
	ctx := p.ctx
	p.mu.Unlock()

	job, err := p.fetch(ctx)
	p.metrics.RecordPollTick(ctx, err)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.ticking = false
	fresh := false
	switch {
	case err != nil:
		// no new data this tick, the schedule continues
		p.logger.Warn("poller: tick failed", "attempt", attempt, "error", err)
	case seq < p.accepted:
		// a refresh that started later already answered
	default:
		fresh = true
		p.accepted = seq
		p.job = job
	}

	active := activeOf(p.job)
	switch {
	case fresh && active == nil:
		p.metrics.RecordPollStop(ctx, observability.StopIdle)
		p.exhausted = false
	case attempt >= p.maxAttempts:
		p.logger.Warn("poller: giving up, job still active", "attempts", attempt, "jobId", jobID(active))
		p.metrics.RecordPollStop(ctx, observability.StopExhausted)
		p.exhausted = true
	default:
		p.armLocked()
	}
	p.mu.Unlock()

	if fresh {
		p.observe(ctx, gen, seq, active)
	}
}

// observe hands an accepted result to the observer unless a newer one already went through.
func (p *Poller) observe(ctx context.Context, gen, seq uint64, active *model.TranslationJob) {
	if p.observer == nil {
		return
	}
	p.observeMu.Lock()
	defer p.observeMu.Unlock()

	p.mu.Lock()
	current := gen == p.gen && seq > p.observed
	if current {
		p.observed = seq
	}
	p.mu.Unlock()
	if !current {
		return
	}

	final := p.observer.OnObserve(ctx, active)
	if final == nil {
		return
	}
	p.mu.Lock()
	p.finished = final.Clone()
	p.mu.Unlock()
}

func (p *Poller) nextSeqLocked() uint64 {
	p.seq++
	return p.seq
}

func (p *Poller) fetch(ctx context.Context) (*model.TranslationJob, error) {
	key := cache.ActiveJobKey(p.projectID)
	if err := p.cache.InvalidateKey(ctx, key); err != nil {
		return nil, err
	}
	jobs, err := cache.Fetch(ctx, p.cache, key, func(ctx context.Context) ([]*model.TranslationJob, error) {
		return p.jobs.FindActiveJobs(ctx, p.projectID)
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 || jobs[0] == nil {
		return nil, nil
	}
	job := jobs[0]
	if p.hints != nil {
		job = p.hints.MergeHint(job)
	}
	return job, nil
}

func (p *Poller) armLocked() {
	gen := p.gen
	p.timer = p.clock.AfterFunc(p.Interval(p.attempt), func() { p.tick(gen) })
}

func (p *Poller) pollingLocked() bool {
	return p.timer != nil || p.ticking
}

// bumpLocked invalidates every armed timer and in-flight continuation.
func (p *Poller) bumpLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.ticking = false
}

func (p *Poller) stopScheduleLocked(ctx context.Context, reason string) {
	p.bumpLocked()
	p.metrics.RecordPollStop(ctx, reason)
}

func (p *Poller) stopLocked(ctx context.Context, reason string) {
	if p.pollingLocked() {
		p.metrics.RecordPollStop(ctx, reason)
	}
	p.bumpLocked()
	p.attempt = 0
	p.exhausted = false
}

func (p *Poller) IsPolling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollingLocked()
}

func (p *Poller) PollAttempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}

// Job 最近一次观察到的任务（已合并预估总数），没有则为 nil
func (p *Poller) Job() *model.TranslationJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job.Clone()
}

func (p *Poller) HasActiveJob() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job.IsActive()
}

func (p *Poller) IsJobRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job != nil && p.job.Status == model.JobStatusRunning
}

// Finished 最近一次离开活跃视图的任务的最终记录，没有则为 nil
func (p *Poller) Finished() *model.TranslationJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished.Clone()
}

// IsJobFinished reports whether no job is active and the last one that left the active view
// reached a terminal status.
func (p *Poller) IsJobFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishedLocked()
}

func (p *Poller) finishedLocked() bool {
	return !p.job.IsActive() && p.finished.IsTerminal()
}

// State returns a snapshot of the session state.
func (p *Poller) State() dto.PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dto.PollState{
		ProjectID:     p.projectID,
		PollAttempt:   p.attempt,
		IsPolling:     p.pollingLocked(),
		HasActiveJob:  p.job.IsActive(),
		IsJobRunning:  p.job != nil && p.job.Status == model.JobStatusRunning,
		IsJobFinished: p.finishedLocked(),
		Job:           p.job.Clone(),
		FinishedJob:   p.finished.Clone(),
	}
}

func activeOf(job *model.TranslationJob) *model.TranslationJob {
	if job.IsActive() {
		return job
	}
	return nil
}

func jobID(job *model.TranslationJob) string {
	if job == nil {
		return ""
	}
	return job.ID
}

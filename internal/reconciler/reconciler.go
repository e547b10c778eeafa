// Package reconciler keeps the cached job detail, job list and active-job views consistent with
// the backend across optimistic updates and polling, and emits one notification per finished job.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/notify"
	"github.com/tolkhub/jobwatch/internal/observability"
)

// JobSource 按 id 读取权威任务记录
type JobSource interface {
	GetJob(ctx context.Context, jobID string) (*model.TranslationJob, error)
}

type Reconciler struct {
	cache    *cache.Client
	jobs     JobSource
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	hints map[string]int
}

type Option func(*Reconciler)

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func New(c *cache.Client, jobs JobSource, notifier notify.Notifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		cache:    c,
		jobs:     jobs,
		notifier: notifier,
		logger:   slog.Default(),
		hints:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = notify.NewLogNotifier(r.logger)
	}
	return r
}

// RecordHint 记录客户端预估的 key 总数
func (r *Reconciler) RecordHint(jobID string, total int) {
	if jobID == "" || total < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints[jobID] = total
}

func (r *Reconciler) Hint(jobID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.hints[jobID]
	return v, ok
}

func (r *Reconciler) DropHint(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hints, jobID)
}

// MergeHint returns a copy of job with the hint filled into a missing total_keys.
// A value reported by the server always wins.
func (r *Reconciler) MergeHint(job *model.TranslationJob) *model.TranslationJob {
	if job == nil {
		return nil
	}
	merged := job.Clone()
	if merged.TotalKeys != nil {
		return merged
	}
	if hint, ok := r.Hint(job.ID); ok {
		merged.TotalKeys = &hint
	}
	return merged
}

// OnCreated records the hint for a freshly accepted job and loads it into the detail cache.
func (r *Reconciler) OnCreated(ctx context.Context, jobID string, hint *int) (*model.TranslationJob, error) {
	if hint != nil {
		r.RecordHint(jobID, *hint)
	}
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job = r.MergeHint(job)
	if err := cache.Save(ctx, r.cache, cache.JobKey(jobID), job); err != nil {
		return nil, err
	}
	return job, nil
}

// OnCancelSuccess writes the cancelled record, empties the project's active view and marks its
// list pages stale.
func (r *Reconciler) OnCancelSuccess(ctx context.Context, job *model.TranslationJob) error {
	job = r.MergeHint(job)
	if err := cache.Save(ctx, r.cache, cache.JobKey(job.ID), job); err != nil {
		return err
	}

	activeKey := cache.ActiveJobKey(job.ProjectID)
	r.cache.CancelPending(ctx, activeKey)
	if err := cache.Save(ctx, r.cache, activeKey, []*model.TranslationJob{}); err != nil {
		return err
	}
	return r.cache.Invalidate(ctx, cache.JobListPrefix(job.ProjectID))
}

// Reconcile propagates the final state of a job that left the active view, notifies userID and
// returns the record it wrote. Callers must guarantee it runs once per termination; see Tracker.
func (r *Reconciler) Reconcile(ctx context.Context, projectID, jobID, userID string) (*model.TranslationJob, error) {
	logger := r.logger.With("projectId", projectID, "jobId", jobID)

	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		logger.Warn("reconcile: failed to fetch final job", "error", err)
		// leave the next reader to refetch instead of trusting a pre-termination snapshot
		_ = r.cache.InvalidateKey(ctx, cache.JobKey(jobID))
		_ = r.cache.Invalidate(ctx, cache.JobListPrefix(projectID))
		return nil, fmt.Errorf("reconcile job %s: %w", jobID, err)
	}

	job = r.MergeHint(job)
	if err := cache.Save(ctx, r.cache, cache.JobKey(jobID), job); err != nil {
		logger.Warn("reconcile: failed to write job detail", "error", err)
	}
	if err := r.replaceInLists(ctx, projectID, job); err != nil {
		logger.Warn("reconcile: failed to update job lists", "error", err)
	}
	r.DropHint(jobID)
	r.metrics.RecordReconciliation(ctx, string(job.Status))

	n, ok := notify.FromJob(job)
	if !ok {
		logger.Info("reconcile: job left the active view without a terminal status", "status", job.Status)
		return job, nil
	}
	n.UserID = userID
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.metrics.RecordNotificationError(ctx)
		logger.Warn("reconcile: notification failed", "error", err)
	}
	return job, nil
}

// replaceInLists swaps the job into every cached list page of the project that contains it.
func (r *Reconciler) replaceInLists(ctx context.Context, projectID string, job *model.TranslationJob) error {
	keys, err := r.cache.Keys(ctx, cache.JobListPrefix(projectID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := cache.Update(ctx, r.cache, key, func(page *model.JobPage) (*model.JobPage, bool) {
			if page == nil {
				return page, false
			}
			changed := false
			for i, j := range page.Data {
				if j != nil && j.ID == job.ID {
					page.Data[i] = job.Clone()
					changed = true
				}
			}
			return page, changed
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Tracker holds the last-seen active job of one watch session and turns its disappearance into
// exactly one reconciliation.
type Tracker struct {
	r         *Reconciler
	projectID string
	userID    string

	mu       sync.Mutex
	lastSeen string
}

// Track 为一个 (用户, 项目) 会话创建 Tracker
func (r *Reconciler) Track(projectID, userID string) *Tracker {
	return &Tracker{r: r, projectID: projectID, userID: userID}
}

// OnObserve receives every accepted active-job observation, after the poller updated its state.
// It returns the final record of the job that just left the active view, or nil.
func (t *Tracker) OnObserve(ctx context.Context, active *model.TranslationJob) *model.TranslationJob {
	t.mu.Lock()
	var finished string
	switch {
	case active != nil && active.ID == t.lastSeen:
	case active != nil:
		finished, t.lastSeen = t.lastSeen, active.ID
	default:
		finished, t.lastSeen = t.lastSeen, ""
	}
	t.mu.Unlock()

	if finished == "" {
		return nil
	}
	job, err := t.r.Reconcile(ctx, t.projectID, finished, t.userID)
	if err != nil {
		return nil
	}
	return job
}

func (t *Tracker) LastSeen() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

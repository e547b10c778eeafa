package service

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/mutate"
	"github.com/tolkhub/jobwatch/internal/observability"
	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
	"github.com/tolkhub/jobwatch/internal/reconciler"
)

// localePattern ll 或 ll-CC
var localePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

const msgSameLocale = "Target locale must differ from the project's default locale"

// JobCommandService 提交、取消与读取翻译任务
type JobCommandService struct {
	backend    backend.Backend
	cache      *cache.Client
	reconciler *reconciler.Reconciler
	validate   *validator.Validate
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewJobCommandService(
	b backend.Backend,
	c *cache.Client,
	r *reconciler.Reconciler,
	metrics *observability.Metrics,
) *JobCommandService {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &JobCommandService{
		backend:    b,
		cache:      c,
		reconciler: r,
		validate:   v,
		metrics:    metrics,
		now:        time.Now,
	}
}

// ValidateCreate runs every check that needs no network call.
func (s *JobCommandService) ValidateCreate(req *dto.CreateJobRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperr.Validation(fieldPath(fe), validationMessage(fe))
		}
		return apperr.Validation("", err.Error())
	}
	if err := CheckKeySelection(req.Mode, req.KeyIDs); err != nil {
		return err
	}
	if !localePattern.MatchString(req.TargetLocale) {
		return apperr.Validation("target_locale", "Target locale must look like fr or pt-BR")
	}
	return nil
}

// CheckKeySelection enforces the key_ids rule of each mode.
func CheckKeySelection(mode model.JobMode, keyIDs []string) error {
	switch mode {
	case model.JobModeAll:
		if len(keyIDs) != 0 {
			return apperr.Validation("key_ids", "Translating all keys does not take a key selection")
		}
	case model.JobModeSelected:
		if len(keyIDs) == 0 {
			return apperr.Validation("key_ids", "Select at least one key to translate")
		}
	case model.JobModeSingle:
		if len(keyIDs) != 1 {
			return apperr.Validation("key_ids", "Select exactly one key to translate")
		}
	default:
		return apperr.Validation("mode", "Mode must be all, selected or single")
	}
	return nil
}

// fieldPath drops the struct name: CreateJobRequest.params.temperature -> params.temperature
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	default:
		return field + " is invalid"
	}
}

// Create 校验并提交创建请求。成功后失效活跃任务与列表缓存，并立即拉取新任务
func (s *JobCommandService) Create(ctx context.Context, req *dto.CreateJobRequest) (*dto.CreateJobResponse, error) {
	resp, err := s.create(ctx, req)
	s.metrics.RecordJobCommand(ctx, "create", err)
	return resp, err
}

func (s *JobCommandService) create(ctx context.Context, req *dto.CreateJobRequest) (*dto.CreateJobResponse, error) {
	if err := s.ValidateCreate(req); err != nil {
		return nil, err
	}

	project, err := s.Project(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if req.TargetLocale == project.DefaultLocale {
		return nil, apperr.Conflict("job", msgSameLocale)
	}

	resp, err := s.backend.CreateJob(ctx, backend.CreateJobInput{
		ProjectID:    req.ProjectID,
		Mode:         req.Mode,
		TargetLocale: req.TargetLocale,
		KeyIDs:       req.KeyIDs,
		Params:       req.Params.ToModel(),
	})
	if err != nil {
		return nil, err
	}

	logger := slog.With("projectId", req.ProjectID, "jobId", resp.JobID)
	if err := s.cache.InvalidateKey(ctx, cache.ActiveJobKey(req.ProjectID)); err != nil {
		logger.Warn("failed to invalidate active job", "error", err)
	}
	if err := s.cache.Invalidate(ctx, cache.JobListPrefix(req.ProjectID)); err != nil {
		logger.Warn("failed to invalidate job list", "error", err)
	}
	if _, err := s.reconciler.OnCreated(ctx, resp.JobID, req.EstimatedTotalKeys); err != nil {
		// the job exists; the poller will pick it up
		logger.Warn("failed to load created job", "error", err)
	}
	return resp, nil
}

// Cancel 取消 pending/running 任务。缓存中的详情先乐观更新为 cancelled，失败时恢复原快照
func (s *JobCommandService) Cancel(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	job, err := s.cancel(ctx, jobID)
	s.metrics.RecordJobCommand(ctx, "cancel", err)
	return job, err
}

func (s *JobCommandService) cancel(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	current, err := s.backend.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !current.IsActive() {
		return nil, apperr.NotCancellable(jobID, string(current.Status))
	}

	key := cache.JobKey(jobID)
	// a detail fetch still in flight must not overwrite the optimistic entry
	s.cache.CancelPending(ctx, key)

	job, err := mutate.Run(ctx, mutate.Optimistic[*cache.Entry]{
		Snapshot: func(ctx context.Context) (*cache.Entry, error) {
			return s.cache.Entry(ctx, key)
		},
		Apply: func(ctx context.Context) error {
			optimistic := s.reconciler.MergeHint(current)
			now := s.now()
			optimistic.Status = model.JobStatusCancelled
			optimistic.FinishedAt = &now
			return cache.Save(ctx, s.cache, key, optimistic)
		},
		Compensate: func(ctx context.Context, snap *cache.Entry) error {
			return s.cache.Restore(ctx, key, snap)
		},
	}, func(ctx context.Context) (*model.TranslationJob, error) {
		return s.backend.CancelJob(ctx, jobID)
	})
	if err != nil {
		return nil, err
	}

	if err := s.reconciler.OnCancelSuccess(ctx, job); err != nil {
		slog.Warn("failed to reconcile cancelled job", "jobId", jobID, "error", err)
	}
	return s.reconciler.MergeHint(job), nil
}

// Get 任务详情
func (s *JobCommandService) Get(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	job, err := cache.Fetch(ctx, s.cache, cache.JobKey(jobID), func(ctx context.Context) (*model.TranslationJob, error) {
		return s.backend.GetJob(ctx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return s.reconciler.MergeHint(job), nil
}

// List 项目任务列表，每个分页单独缓存
func (s *JobCommandService) List(ctx context.Context, projectID string, q dto.JobListQuery) (*model.JobPage, error) {
	q.Normalize()
	for _, st := range q.Statuses {
		if !st.Valid() {
			return nil, apperr.Validation("status", "Unknown job status "+string(st))
		}
	}

	page, err := cache.Fetch(ctx, s.cache, cache.JobListKey(projectID, q.CacheKey()), func(ctx context.Context) (*model.JobPage, error) {
		return s.backend.ListJobs(ctx, projectID, q)
	})
	if err != nil {
		return nil, err
	}
	for i, job := range page.Data {
		page.Data[i] = s.reconciler.MergeHint(job)
	}
	return page, nil
}

// Items 任务明细，用于排查失败项
func (s *JobCommandService) Items(ctx context.Context, jobID string, q dto.ItemListQuery) (*model.ItemPage, error) {
	q.Normalize()
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperr.Validation("status", "Unknown item status "+string(q.Status))
	}
	return cache.Fetch(ctx, s.cache, cache.ItemsKey(jobID, q.CacheKey()), func(ctx context.Context) (*model.ItemPage, error) {
		return s.backend.ListItems(ctx, jobID, q)
	})
}

// ActiveJob 项目当前活跃任务，没有则为 nil
func (s *JobCommandService) ActiveJob(ctx context.Context, projectID string) (*model.TranslationJob, error) {
	jobs, err := cache.Fetch(ctx, s.cache, cache.ActiveJobKey(projectID), func(ctx context.Context) ([]*model.TranslationJob, error) {
		return s.backend.FindActiveJobs(ctx, projectID)
	})
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return s.reconciler.MergeHint(jobs[0]), nil
}

func (s *JobCommandService) Project(ctx context.Context, projectID string) (*model.Project, error) {
	return cache.Fetch(ctx, s.cache, cache.ProjectKey(projectID), func(ctx context.Context) (*model.Project, error) {
		return s.backend.GetProject(ctx, projectID)
	})
}

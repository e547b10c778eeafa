// Package local emulates the hosted backend on top of gorm: row visibility, locale rules, the
// single-active-job constraint and conditional cancellation. Jobs are never executed here; Advance
// moves them through their lifecycle.
package local

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
	"github.com/tolkhub/jobwatch/internal/repository"
)

const (
	msgActiveJobExists = "An active translation job already exists for this project"
	msgSameLocale      = "Target locale must differ from the project's default locale"
)

type Backend struct {
	db       *gorm.DB
	projects *repository.ProjectRepository
	jobs     *repository.JobRepository
	items    *repository.ItemRepository
	now      func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

func New(db *gorm.DB) *Backend {
	return &Backend{
		db:       db,
		projects: repository.NewProjectRepository(db),
		jobs:     repository.NewJobRepository(db),
		items:    repository.NewItemRepository(db),
		now:      time.Now,
	}
}

func dbError(op string, err error) error {
	if apperr.Is(err) {
		return err
	}
	return apperr.Database(op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// visible 行级权限：没有用户身份时视为服务端调用
func visible(ctx context.Context, p *model.Project) bool {
	uid := backend.UserID(ctx)
	return uid == "" || uid == p.OwnerID
}

func (b *Backend) project(ctx context.Context, op string, repo *repository.ProjectRepository, projectID string) (*model.Project, error) {
	p, err := repo.GetByID(projectID)
	if isNotFound(err) {
		return nil, apperr.NotFound("project", projectID)
	}
	if err != nil {
		return nil, dbError(op, err)
	}
	if !visible(ctx, p) {
		return nil, apperr.NotFound("project", projectID)
	}
	return p, nil
}

func (b *Backend) job(ctx context.Context, op, jobID string) (*model.TranslationJob, error) {
	job, err := b.jobs.GetByID(jobID)
	if isNotFound(err) {
		return nil, apperr.NotFound("job", jobID)
	}
	if err != nil {
		return nil, dbError(op, err)
	}
	if _, err := b.project(ctx, op, b.projects, job.ProjectID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("job", jobID)
		}
		return nil, err
	}
	return job, nil
}

func (b *Backend) CreateJob(ctx context.Context, in backend.CreateJobInput) (*dto.CreateJobResponse, error) {
	const op = "backend.createJob"

	if err := checkKeySelection(in.Mode, in.KeyIDs); err != nil {
		return nil, err
	}

	job := &model.TranslationJob{
		ID:           uuid.NewString(),
		ProjectID:    in.ProjectID,
		Mode:         in.Mode,
		TargetLocale: in.TargetLocale,
		Status:       model.JobStatusPending,
		Params:       in.Params,
	}
	if in.Params != nil {
		job.Model = in.Params.Model
		job.Provider = in.Params.Provider
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		projects := b.projects.WithTx(lockRows(tx))
		jobs := b.jobs.WithTx(tx)
		items := b.items.WithTx(tx)

		p, err := b.project(ctx, op, projects, in.ProjectID)
		if err != nil {
			return err
		}
		if in.TargetLocale == p.DefaultLocale {
			return apperr.Conflict("job", msgSameLocale)
		}
		job.SourceLocale = p.DefaultLocale

		active, err := jobs.CountActive(p.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return apperr.Conflict("job", msgActiveJobExists)
		}

		keyIDs := in.KeyIDs
		if in.Mode == model.JobModeAll {
			if keyIDs, err = b.projects.WithTx(tx).KeyIDs(p.ID); err != nil {
				return err
			}
		} else {
			keyIDs = dedupe(keyIDs)
			n, err := b.projects.WithTx(tx).CountKeys(p.ID, keyIDs)
			if err != nil {
				return err
			}
			if int(n) != len(keyIDs) {
				return apperr.Validation("key_ids", "Some selected keys do not belong to this project")
			}
			total := len(keyIDs)
			job.TotalKeys = &total
		}

		if err := jobs.Create(job); err != nil {
			return err
		}
		rows := make([]*model.TranslationJobItem, 0, len(keyIDs))
		for _, id := range keyIDs {
			rows = append(rows, &model.TranslationJobItem{JobID: job.ID, KeyID: id, Status: model.ItemStatusPending})
		}
		return items.CreateBatch(rows)
	})
	if err != nil {
		return nil, dbError(op, err)
	}

	return &dto.CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Translation job queued",
	}, nil
}

// lockRows 在 MySQL 上锁住项目行，串行化同一项目的并发创建；SQLite 本身单写
func lockRows(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func checkKeySelection(mode model.JobMode, keyIDs []string) error {
	switch mode {
	case model.JobModeAll:
		if len(keyIDs) > 0 {
			return apperr.Validation("key_ids", "Mode all does not accept key ids")
		}
	case model.JobModeSelected:
		if len(keyIDs) == 0 {
			return apperr.Validation("key_ids", "Select at least one key")
		}
	case model.JobModeSingle:
		if len(keyIDs) != 1 {
			return apperr.Validation("key_ids", "Mode single requires exactly one key")
		}
	default:
		return apperr.Validation("mode", "Unknown job mode")
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (b *Backend) CancelJob(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	const op = "backend.cancelJob"
	current, err := b.job(ctx, op, jobID)
	if err != nil {
		return nil, err
	}

	n, err := b.jobs.WithTx(b.db.WithContext(ctx)).CancelActive(jobID, b.now())
	if err != nil {
		return nil, dbError(op, err)
	}
	if n == 0 {
		// finished between the read and the update
		latest, err := b.jobs.GetByID(jobID)
		if err != nil {
			return nil, dbError(op, err)
		}
		return nil, apperr.NotCancellable(jobID, string(latest.Status))
	}

	updated, err := b.jobs.GetByID(current.ID)
	if err != nil {
		return nil, dbError(op, err)
	}
	return updated, nil
}

func (b *Backend) GetJob(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	return b.job(ctx, "backend.getJob", jobID)
}

func (b *Backend) FindActiveJobs(ctx context.Context, projectID string) ([]*model.TranslationJob, error) {
	const op = "backend.findActiveJobs"
	if _, err := b.project(ctx, op, b.projects, projectID); err != nil {
		return nil, err
	}
	jobs, err := b.jobs.FindActive(projectID)
	if err != nil {
		return nil, dbError(op, err)
	}
	return jobs, nil
}

func (b *Backend) ListJobs(ctx context.Context, projectID string, q dto.JobListQuery) (*model.JobPage, error) {
	const op = "backend.listJobs"
	if _, err := b.project(ctx, op, b.projects, projectID); err != nil {
		return nil, err
	}
	q.Normalize()
	start, _ := q.Range()

	jobs, total, err := b.jobs.List(projectID, repository.JobFilter{
		Statuses: q.Statuses,
		SortBy:   q.SortBy,
		SortDesc: q.SortDesc,
		Offset:   start,
		Limit:    q.PageSize,
	})
	if err != nil {
		return nil, dbError(op, err)
	}
	return &model.JobPage{
		Data:     jobs,
		Metadata: model.PageMeta{Start: start, End: start + len(jobs) - 1, Total: total},
	}, nil
}

func (b *Backend) ListItems(ctx context.Context, jobID string, q dto.ItemListQuery) (*model.ItemPage, error) {
	const op = "backend.listItems"
	if _, err := b.job(ctx, op, jobID); err != nil {
		return nil, err
	}
	q.Normalize()
	start, _ := q.Range()

	items, total, err := b.items.ListByJob(jobID, q.Status, start, q.PageSize)
	if err != nil {
		return nil, dbError(op, err)
	}
	return &model.ItemPage{
		Data:     items,
		Metadata: model.PageMeta{Start: start, End: start + len(items) - 1, Total: total},
	}, nil
}

func (b *Backend) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	return b.project(ctx, "backend.getProject", b.projects, projectID)
}

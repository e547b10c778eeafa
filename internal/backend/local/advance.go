package local

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
)

// JobUpdate 推进任务时要写入的字段，nil 表示不变
type JobUpdate struct {
	Status        model.JobStatus
	TotalKeys     *int
	CompletedKeys *int
	FailedKeys    *int
}

// Advance moves a job forward the way the job function would: pending -> running -> one terminal
// status. Finished jobs are immutable.
func (b *Backend) Advance(ctx context.Context, jobID string, u JobUpdate) (*model.TranslationJob, error) {
	const op = "backend.advanceJob"

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := b.jobs.WithTx(tx)
		job, err := jobs.GetByID(jobID)
		if err != nil {
			return err
		}
		if job.IsTerminal() {
			return apperr.Conflict("job", fmt.Sprintf("job %s is already %s", jobID, job.Status))
		}

		if u.TotalKeys != nil {
			if err := jobs.SetTotalKeys(jobID, *u.TotalKeys); err != nil {
				return err
			}
		}
		if u.CompletedKeys != nil || u.FailedKeys != nil {
			completed, failed := job.CompletedKeys, job.FailedKeys
			if u.CompletedKeys != nil {
				completed = *u.CompletedKeys
			}
			if u.FailedKeys != nil {
				failed = *u.FailedKeys
			}
			if err := jobs.UpdateProgress(jobID, completed, failed); err != nil {
				return err
			}
		}

		if u.Status == "" || u.Status == job.Status {
			return nil
		}
		var from []model.JobStatus
		switch {
		case u.Status == model.JobStatusRunning:
			from = []model.JobStatus{model.JobStatusPending}
		case u.Status.IsTerminal():
			from = model.ActiveStatuses
		default:
			return apperr.Validation("status", fmt.Sprintf("cannot move job from %s to %s", job.Status, u.Status))
		}
		n, err := jobs.UpdateStatus(jobID, from, u.Status, b.now())
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.Conflict("job", fmt.Sprintf("job %s changed concurrently", jobID))
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("job", jobID)
		}
		return nil, dbError(op, err)
	}

	return b.jobs.GetByID(jobID)
}

// Package notify turns terminal job states into user-facing notifications and delivers them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tolkhub/jobwatch/internal/model"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindNeutral Kind = "neutral"
)

// Notification 一次任务结束只产生一条通知
type Notification struct {
	Kind          Kind            `json:"kind"`
	UserID        string          `json:"user_id"`
	ProjectID     string          `json:"project_id"`
	JobID         string          `json:"job_id"`
	Status        model.JobStatus `json:"status"`
	Title         string          `json:"title"`
	Message       string          `json:"message"`
	CompletedKeys int             `json:"completed_keys"`
	TotalKeys     *int            `json:"total_keys,omitempty"`
	TargetLocale  string          `json:"target_locale"`
	At            time.Time       `json:"at"`
}

// FromJob builds the notification for a finished job. ok is false for statuses that do not
// notify.
func FromJob(job *model.TranslationJob) (n Notification, ok bool) {
	if job == nil {
		return n, false
	}
	n = Notification{
		ProjectID:     job.ProjectID,
		JobID:         job.ID,
		Status:        job.Status,
		CompletedKeys: job.CompletedKeys,
		TotalKeys:     job.TotalKeys,
		TargetLocale:  job.TargetLocale,
		At:            time.Now(),
	}

	switch job.Status {
	case model.JobStatusCompleted:
		n.Kind = KindSuccess
		n.Title = "Translation completed"
		if job.TotalKeys != nil {
			n.Message = fmt.Sprintf("Translated %d of %d keys to %s", job.CompletedKeys, *job.TotalKeys, job.TargetLocale)
		} else {
			n.Message = fmt.Sprintf("Translated %d keys to %s", job.CompletedKeys, job.TargetLocale)
		}
	case model.JobStatusFailed:
		n.Kind = KindError
		n.Title = "Translation failed"
		n.Message = fmt.Sprintf("The %s translation failed after %d keys", job.TargetLocale, job.CompletedKeys)
	case model.JobStatusCancelled:
		n.Kind = KindNeutral
		n.Title = "Translation cancelled"
		n.Message = fmt.Sprintf("The %s translation was cancelled", job.TargetLocale)
	default:
		return Notification{}, false
	}
	return n, true
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func 函数适配器
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Multi 依次投递到所有 Notifier，错误合并返回
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 写入结构化日志
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Kind == KindError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, n.Message,
		"kind", n.Kind,
		"userId", n.UserID,
		"projectId", n.ProjectID,
		"jobId", n.JobID,
		"status", n.Status,
		"completedKeys", n.CompletedKeys,
		"targetLocale", n.TargetLocale)
	return nil
}

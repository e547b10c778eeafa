// Package backend defines the operations the job lifecycle needs from the hosted backend.
package backend

import (
	"context"

	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
)

// CreateJobInput 提交给任务函数的参数
type CreateJobInput struct {
	ProjectID    string           `json:"project_id"`
	Mode         model.JobMode    `json:"mode"`
	TargetLocale string           `json:"target_locale"`
	KeyIDs       []string         `json:"key_ids,omitempty"`
	Params       *model.JobParams `json:"params,omitempty"`
}

// Backend 后端接口。授权由后端负责，调用方通过 WithAccessToken 传递用户令牌
type Backend interface {
	CreateJob(ctx context.Context, in CreateJobInput) (*dto.CreateJobResponse, error)
	// CancelJob moves a pending or running job to cancelled and returns the updated record.
	CancelJob(ctx context.Context, jobID string) (*model.TranslationJob, error)
	GetJob(ctx context.Context, jobID string) (*model.TranslationJob, error)
	// FindActiveJobs returns the jobs of the project in pending or running, newest first.
	FindActiveJobs(ctx context.Context, projectID string) ([]*model.TranslationJob, error)
	ListJobs(ctx context.Context, projectID string, q dto.JobListQuery) (*model.JobPage, error)
	ListItems(ctx context.Context, jobID string, q dto.ItemListQuery) (*model.ItemPage, error)
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
}

type tokenKey struct{}

// WithAccessToken 在 context 中携带用户的访问令牌
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// AccessToken 读取 context 中的访问令牌
func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

type userKey struct{}

// WithUserID 在 context 中携带已认证用户 ID，本地后端据此做权限判断
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

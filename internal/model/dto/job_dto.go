package dto

import (
	"fmt"
	"strings"

	"github.com/tolkhub/jobwatch/internal/model"
)

// CreateJobRequest 创建翻译任务请求
type CreateJobRequest struct {
	ProjectID    string        `json:"project_id" validate:"required,max=64"`
	Mode         model.JobMode `json:"mode" validate:"required,oneof=all selected single"`
	TargetLocale string        `json:"target_locale" validate:"required"`
	KeyIDs       []string      `json:"key_ids" validate:"omitempty,dive,required,max=64"`
	Params       *JobParams    `json:"params,omitempty" validate:"omitempty"`
	// EstimatedTotalKeys 客户端预估的 key 数量，服务端还没算出 total_keys 时用于展示进度
	EstimatedTotalKeys *int `json:"estimated_total_keys,omitempty" validate:"omitempty,min=0"`
}

type JobParams struct {
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=32000"`
	Model       string   `json:"model,omitempty" validate:"omitempty,max=100"`
	Provider    string   `json:"provider,omitempty" validate:"omitempty,max=50"`
}

func (p *JobParams) ToModel() *model.JobParams {
	if p == nil {
		return nil
	}
	return &model.JobParams{
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Model:       p.Model,
		Provider:    p.Provider,
	}
}

// CreateJobResponse 任务函数返回
type CreateJobResponse struct {
	JobID   string          `json:"job_id"`
	Status  model.JobStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

// JobListQuery 任务列表查询
type JobListQuery struct {
	Page     int               `form:"page"`
	PageSize int               `form:"page_size"`
	Statuses []model.JobStatus `form:"status"`
	SortBy   string            `form:"sort_by"`    // created_at, status
	SortDesc bool              `form:"sort_desc"`
}

// Normalize 补全默认值
func (q *JobListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.SortBy != "status" {
		q.SortBy = "created_at"
	}
}

// Range 返回分页对应的闭区间
func (q JobListQuery) Range() (start, end int) {
	start = (q.Page - 1) * q.PageSize
	return start, start + q.PageSize - 1
}

// CacheKey 同一查询对应同一缓存条目
func (q JobListQuery) CacheKey() string {
	statuses := make([]string, len(q.Statuses))
	for i, s := range q.Statuses {
		statuses[i] = string(s)
	}
	return fmt.Sprintf("p%d:s%d:%s:%s:%t", q.Page, q.PageSize, strings.Join(statuses, ","), q.SortBy, q.SortDesc)
}

// ItemListQuery 任务明细查询，主要用于排查失败项
type ItemListQuery struct {
	Page     int              `form:"page"`
	PageSize int              `form:"page_size"`
	Status   model.ItemStatus `form:"status"`
}

func (q *ItemListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 200 {
		q.PageSize = 50
	}
}

func (q ItemListQuery) Range() (start, end int) {
	start = (q.Page - 1) * q.PageSize
	return start, start + q.PageSize - 1
}

func (q ItemListQuery) CacheKey() string {
	return fmt.Sprintf("p%d:s%d:%s", q.Page, q.PageSize, q.Status)
}

// PollState 轮询会话状态
type PollState struct {
	ProjectID     string                `json:"project_id"`
	PollAttempt   int                   `json:"poll_attempt"`
	IsPolling     bool                  `json:"is_polling"`
	HasActiveJob  bool                  `json:"has_active_job"`
	IsJobRunning  bool                  `json:"is_job_running"`
	IsJobFinished bool                  `json:"is_job_finished"`
	Job           *model.TranslationJob `json:"job,omitempty"`
	FinishedJob   *model.TranslationJob `json:"finished_job,omitempty"`
}

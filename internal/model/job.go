package model

import (
	"time"
)

type JobStatus string

// 任务状态
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ActiveStatuses 活跃状态集合，每个项目最多一个任务处于这些状态
var ActiveStatuses = []JobStatus{JobStatusPending, JobStatusRunning}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive pending 或 running
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// IsTerminal completed、failed 或 cancelled，之后不再变化
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type JobMode string

const (
	JobModeAll      JobMode = "all"
	JobModeSelected JobMode = "selected"
	JobModeSingle   JobMode = "single"
)

func (m JobMode) Valid() bool {
	return m == JobModeAll || m == JobModeSelected || m == JobModeSingle
}

// JobParams 可选的 LLM 参数
type JobParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Model       string   `json:"model,omitempty"`
	Provider    string   `json:"provider,omitempty"`
}

type TranslationJob struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	ProjectID     string     `gorm:"size:36;not null;index" json:"project_id"`
	Mode          JobMode    `gorm:"size:10;not null" json:"mode"`
	SourceLocale  string     `gorm:"size:16;not null" json:"source_locale"`
	TargetLocale  string     `gorm:"size:16;not null" json:"target_locale"`
	Status        JobStatus  `gorm:"size:20;default:pending;index" json:"status"`
	TotalKeys     *int       `json:"total_keys"`
	CompletedKeys int        `gorm:"not null;default:0" json:"completed_keys"`
	FailedKeys    int        `gorm:"not null;default:0" json:"failed_keys"`
	Model         string     `gorm:"size:100" json:"model"`
	Provider      string     `gorm:"size:50" json:"provider"`
	Params        *JobParams `gorm:"serializer:json" json:"params,omitempty"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (TranslationJob) TableName() string {
	return "translation_jobs"
}

func (j *TranslationJob) IsActive() bool {
	return j != nil && j.Status.IsActive()
}

func (j *TranslationJob) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// Clone 返回深拷贝，缓存快照与乐观更新都依赖它
func (j *TranslationJob) Clone() *TranslationJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.TotalKeys != nil {
		v := *j.TotalKeys
		c.TotalKeys = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		c.FinishedAt = &v
	}
	if j.Params != nil {
		p := *j.Params
		c.Params = &p
	}
	return &c
}

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusSkipped   ItemStatus = "skipped"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusCompleted, ItemStatusFailed, ItemStatusSkipped:
		return true
	}
	return false
}

// TranslationJobItem 每个 (任务, key) 一行，只由服务端创建
type TranslationJobItem struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	JobID        string     `gorm:"size:36;not null;index" json:"job_id"`
	KeyID        string     `gorm:"size:36;not null" json:"key_id"`
	KeyName      string     `gorm:"->;-:migration" json:"key_name"`
	Status       ItemStatus `gorm:"size:20;default:pending;index" json:"status"`
	ErrorCode    string     `gorm:"size:64" json:"error_code,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (TranslationJobItem) TableName() string {
	return "translation_job_items"
}

// PageMeta 分页元信息，区间为闭区间 [Start, End]
type PageMeta struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Total int64 `json:"total"`
}

type JobPage struct {
	Data     []*TranslationJob `json:"data"`
	Metadata PageMeta          `json:"metadata"`
}

type ItemPage struct {
	Data     []*TranslationJobItem `json:"data"`
	Metadata PageMeta              `json:"metadata"`
}

package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tolkhub/jobwatch/internal/model"
)

// TestProject 创建测试项目，默认语言 en
func TestProject(t *testing.T, db *gorm.DB, ownerID string, opts ...func(*model.Project)) *model.Project {
	t.Helper()

	project := &model.Project{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Name:          fmt.Sprintf("Test Project %d", time.Now().UnixNano()%10000),
		DefaultLocale: "en",
	}

	for _, opt := range opts {
		opt(project)
	}

	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}

	return project
}

// WithDefaultLocale 设置项目默认语言
func WithDefaultLocale(locale string) func(*model.Project) {
	return func(p *model.Project) {
		p.DefaultLocale = locale
	}
}

// TestKeys 为项目创建若干翻译 key
func TestKeys(t *testing.T, db *gorm.DB, projectID string, names ...string) []*model.TranslationKey {
	t.Helper()

	keys := make([]*model.TranslationKey, 0, len(names))
	for _, name := range names {
		key := &model.TranslationKey{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			FullKey:   name,
		}
		if err := db.Create(key).Error; err != nil {
			t.Fatalf("Failed to create test key: %v", err)
		}
		keys = append(keys, key)
	}

	return keys
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, projectID string, status model.JobStatus, opts ...func(*model.TranslationJob)) *model.TranslationJob {
	t.Helper()

	job := &model.TranslationJob{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Mode:         model.JobModeAll,
		SourceLocale: "en",
		TargetLocale: "fr",
		Status:       status,
	}
	if status.IsTerminal() {
		now := time.Now()
		job.FinishedAt = &now
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithTotalKeys 设置任务 key 总数
func WithTotalKeys(total int) func(*model.TranslationJob) {
	return func(j *model.TranslationJob) {
		j.TotalKeys = &total
	}
}

// WithProgress 设置完成与失败数量
func WithProgress(completed, failed int) func(*model.TranslationJob) {
	return func(j *model.TranslationJob) {
		j.CompletedKeys = completed
		j.FailedKeys = failed
	}
}

// WithTargetLocale 设置目标语言
func WithTargetLocale(locale string) func(*model.TranslationJob) {
	return func(j *model.TranslationJob) {
		j.TargetLocale = locale
	}
}

// WithCreatedAt 设置创建时间，用于排序测试
func WithCreatedAt(ts time.Time) func(*model.TranslationJob) {
	return func(j *model.TranslationJob) {
		j.CreatedAt = ts
	}
}

// TestItem 创建测试明细
func TestItem(t *testing.T, db *gorm.DB, jobID, keyID string, status model.ItemStatus) *model.TranslationJobItem {
	t.Helper()

	item := &model.TranslationJobItem{
		JobID:  jobID,
		KeyID:  keyID,
		Status: status,
	}
	if status == model.ItemStatusFailed {
		item.ErrorCode = "LLM_ERROR"
		item.ErrorMessage = "provider returned an empty translation"
	}

	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to create test item: %v", err)
	}

	return item
}

package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/tolkhub/jobwatch/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *JobRepository) WithTx(tx *gorm.DB) *JobRepository {
	return &JobRepository{db: tx}
}

func (r *JobRepository) Create(job *model.TranslationJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) GetByID(id string) (*model.TranslationJob, error) {
	var job model.TranslationJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindActive 获取项目下 pending/running 的任务，最新的在前
func (r *JobRepository) FindActive(projectID string) ([]*model.TranslationJob, error) {
	jobs := []*model.TranslationJob{}
	err := r.db.Where("project_id = ? AND status IN ?", projectID, model.ActiveStatuses).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// CountActive 统计项目下活跃任务数量
func (r *JobRepository) CountActive(projectID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.TranslationJob{}).
		Where("project_id = ? AND status IN ?", projectID, model.ActiveStatuses).
		Count(&count).Error
	return count, err
}

// JobFilter 列表过滤与排序
type JobFilter struct {
	Statuses []model.JobStatus
	SortBy   string // created_at, status
	SortDesc bool
	Offset   int
	Limit    int
}

// List 分页获取项目任务
func (r *JobRepository) List(projectID string, f JobFilter) ([]*model.TranslationJob, int64, error) {
	var total int64
	jobs := []*model.TranslationJob{}

	query := r.db.Model(&model.TranslationJob{}).Where("project_id = ?", projectID)
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column := "created_at"
	if f.SortBy == "status" {
		column = "status"
	}
	order := column + " ASC"
	if f.SortDesc {
		order = column + " DESC"
	}

	err := query.Order(order).
		Order("id ASC").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&jobs).Error
	return jobs, total, err
}

// CancelActive 只在任务仍处于 pending/running 时取消，返回受影响行数
func (r *JobRepository) CancelActive(id string, finishedAt time.Time) (int64, error) {
	result := r.db.Model(&model.TranslationJob{}).
		Where("id = ? AND status IN ?", id, model.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":      model.JobStatusCancelled,
			"finished_at": finishedAt,
		})
	return result.RowsAffected, result.Error
}

// UpdateStatus 状态迁移，只允许从 from 中的状态迁出
func (r *JobRepository) UpdateStatus(id string, from []model.JobStatus, to model.JobStatus, at time.Time) (int64, error) {
	updates := map[string]interface{}{"status": to}
	switch {
	case to == model.JobStatusRunning:
		updates["started_at"] = at
	case to.IsTerminal():
		updates["finished_at"] = at
	}
	result := r.db.Model(&model.TranslationJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// UpdateProgress 更新完成与失败数量
func (r *JobRepository) UpdateProgress(id string, completed, failed int) error {
	return r.db.Model(&model.TranslationJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"completed_keys": completed,
			"failed_keys":    failed,
		}).Error
}

// SetTotalKeys 服务端算出 key 总数后写入
func (r *JobRepository) SetTotalKeys(id string, total int) error {
	return r.db.Model(&model.TranslationJob{}).Where("id = ?", id).Update("total_keys", total).Error
}

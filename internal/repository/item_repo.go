package repository

import (
	"gorm.io/gorm"

	"github.com/tolkhub/jobwatch/internal/model"
)

type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) WithTx(tx *gorm.DB) *ItemRepository {
	return &ItemRepository{db: tx}
}

// CreateBatch 批量创建任务明细
func (r *ItemRepository) CreateBatch(items []*model.TranslationJobItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.CreateInBatches(items, 200).Error
}

// ListByJob 分页获取任务明细，并带出 key 名
func (r *ItemRepository) ListByJob(jobID string, status model.ItemStatus, offset, limit int) ([]*model.TranslationJobItem, int64, error) {
	var total int64
	items := []*model.TranslationJobItem{}

	query := r.db.Model(&model.TranslationJobItem{}).Where("translation_job_items.job_id = ?", jobID)
	if status != "" {
		query = query.Where("translation_job_items.status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Select("translation_job_items.*, translation_keys.full_key AS key_name").
		Joins("LEFT JOIN translation_keys ON translation_keys.id = translation_job_items.key_id").
		Order("translation_job_items.id ASC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	return items, total, err
}

// UpdateStatus 更新单条明细状态
func (r *ItemRepository) UpdateStatus(id int64, status model.ItemStatus, code, message string) error {
	return r.db.Model(&model.TranslationJobItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_code":    code,
			"error_message": message,
		}).Error
}

// CountByStatus 按状态统计明细数量
func (r *ItemRepository) CountByStatus(jobID string) (map[model.ItemStatus]int, error) {
	var rows []struct {
		Status model.ItemStatus
		Count  int
	}
	err := r.db.Model(&model.TranslationJobItem{}).
		Select("status, COUNT(*) AS count").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.ItemStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

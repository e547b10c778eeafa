package repository

import (
	"gorm.io/gorm"

	"github.com/tolkhub/jobwatch/internal/model"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) WithTx(tx *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: tx}
}

func (r *ProjectRepository) Create(project *model.Project) error {
	return r.db.Create(project).Error
}

func (r *ProjectRepository) GetByID(id string) (*model.Project, error) {
	var project model.Project
	err := r.db.Where("id = ?", id).First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// KeyIDs 获取项目全部 key 的 ID
func (r *ProjectRepository) KeyIDs(projectID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.TranslationKey{}).
		Where("project_id = ?", projectID).
		Order("full_key ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// CountKeys 统计属于项目的 key 数量，用于校验客户端传入的 key ID
func (r *ProjectRepository) CountKeys(projectID string, keyIDs []string) (int64, error) {
	var count int64
	err := r.db.Model(&model.TranslationKey{}).
		Where("project_id = ? AND id IN ?", projectID, keyIDs).
		Count(&count).Error
	return count, err
}

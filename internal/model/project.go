package model

import "time"

type Project struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID       string    `gorm:"size:36;not null;index" json:"owner_id"`
	Name          string    `gorm:"size:200;not null" json:"name"`
	DefaultLocale string    `gorm:"size:16;not null" json:"default_locale"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// TranslationKey 项目下的翻译 key
type TranslationKey struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ProjectID string    `gorm:"size:36;not null;index" json:"project_id"`
	FullKey   string    `gorm:"size:500;not null" json:"full_key"`
	CreatedAt time.Time `json:"created_at"`
}

func (TranslationKey) TableName() string {
	return "translation_keys"
}

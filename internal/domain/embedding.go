package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingRecord tracks the vector written to the index for one document
// generation. At most one row per doc id is active; a material text change
// supersedes the old row instead of appending a second live one.
type EmbeddingRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocID        uuid.UUID `gorm:"type:uuid;column:doc_id;not null;index:idx_embedding_doc_active" json:"doc_id"`
	TenantID     string    `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Generation   int       `gorm:"column:generation;not null;default:1" json:"generation"`
	ModelVersion string    `gorm:"column:model_version;not null" json:"model_version"`
	ContentHash  string    `gorm:"column:content_hash;not null" json:"content_hash"`
	Active       bool      `gorm:"column:active;not null;default:true;index:idx_embedding_doc_active" json:"active"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (EmbeddingRecord) TableName() string { return "embedding_record" }

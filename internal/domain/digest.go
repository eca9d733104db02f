package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DigestStateOpen      = "open"
	DigestStateResolved  = "resolved"
	DigestStateRegressed = "regressed"
)

// Digest is one structured memory entry clustering evidence around a single
// issue or decision topic. EvidenceDocIDs is never empty; a digest with no
// grounding evidence is rejected before it is ever persisted.
type Digest struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID string    `gorm:"column:tenant_id;not null;uniqueIndex:idx_digest_tenant_topic" json:"tenant_id"`
	TopicKey string    `gorm:"column:topic_key;not null;uniqueIndex:idx_digest_tenant_topic" json:"topic_key"`
	State    string    `gorm:"column:state;not null;default:open;index" json:"state"`

	Summary        string         `gorm:"column:summary;type:text;not null" json:"summary"`
	EvidenceDocIDs datatypes.JSON `gorm:"type:jsonb;column:evidence_doc_ids;not null" json:"evidence_doc_ids"`

	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (Digest) TableName() string { return "digest" }

// Classification decisions for an incoming document against existing digests.
const (
	DecisionDuplicate  = "duplicate"
	DecisionRegression = "regression"
	DecisionNew        = "new"
)

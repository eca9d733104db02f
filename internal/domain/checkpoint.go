package domain

import "time"

// Pipeline stage names. One ProcessingCheckpoint row exists per
// (source, tenant, stage).
const (
	StageNormalize = "normalize"
	StageEnrich    = "enrich"
	StageEmbed     = "embed"
	StageClassify  = "classify"
)

// ProcessingCheckpoint is the durable cursor marking the last successfully
// processed position for one source and stage. It is advanced only after the
// corresponding downstream write committed, which is what makes re-delivery
// and replay safe.
type ProcessingCheckpoint struct {
	Source   string `gorm:"column:source;primaryKey" json:"source"`
	TenantID string `gorm:"column:tenant_id;primaryKey" json:"tenant_id"`
	Stage    string `gorm:"column:stage;primaryKey" json:"stage"`

	Cursor string `gorm:"column:cursor;not null" json:"cursor"`

	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (ProcessingCheckpoint) TableName() string { return "processing_checkpoint" }

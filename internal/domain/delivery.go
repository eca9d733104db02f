package domain

import (
	"time"

	"github.com/google/uuid"
)

// Source tags form a closed set; every RawEvent carries exactly one and the
// normalizer dispatches on it.
const (
	SourceSlack  = "slack"
	SourceGitHub = "github"
	SourceNotion = "notion"
)

func KnownSource(source string) bool {
	switch source {
	case SourceSlack, SourceGitHub, SourceNotion:
		return true
	}
	return false
}

// DeliveryRecord marks an inbound delivery as seen. Rows are written once,
// never mutated, and only ever used for existence checks.
type DeliveryRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Source     string    `gorm:"column:source;not null;uniqueIndex:idx_delivery_source_id" json:"source"`
	DeliveryID string    `gorm:"column:delivery_id;not null;uniqueIndex:idx_delivery_source_id" json:"delivery_id"`
	TenantID   string    `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	ReceivedAt time.Time `gorm:"column:received_at;not null;autoCreateTime" json:"received_at"`
}

func (DeliveryRecord) TableName() string { return "delivery_record" }

package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DeadLetterStatusPending  = "pending"
	DeadLetterStatusReplayed = "replayed"
)

// DeadLetterMessage holds a pipeline message that exhausted its retries,
// tagged with the failure reason and the original payload so it can be
// replayed manually or by tooling.
type DeadLetterMessage struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Stage        string         `gorm:"column:stage;not null;index" json:"stage"`
	Channel      string         `gorm:"column:channel;not null" json:"channel"`
	PartitionKey string         `gorm:"column:partition_key;not null" json:"partition_key"`
	TenantID     string         `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Payload      datatypes.JSON `gorm:"type:jsonb;column:payload;not null" json:"payload"`
	RetryCount   int            `gorm:"column:retry_count;not null" json:"retry_count"`
	LastError    string         `gorm:"column:last_error;type:text;not null" json:"last_error"`
	FailureCode  string         `gorm:"column:failure_code;not null;index" json:"failure_code"`
	Status       string         `gorm:"column:status;not null;default:pending;index" json:"status"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (DeadLetterMessage) TableName() string { return "dead_letter_message" }

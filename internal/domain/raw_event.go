package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RawEventStatusReceived   = "received"
	RawEventStatusNormalized = "normalized"
	RawEventStatusFailed     = "failed"
)

// RawEvent is the audit log of everything accepted at the ingestion boundary.
// Immutable once written except for ProcessingStatus; never deleted.
type RawEvent struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventID          string         `gorm:"column:event_id;not null;uniqueIndex" json:"event_id"`
	Source           string         `gorm:"column:source;not null;index:idx_raw_event_source_tenant" json:"source"`
	TenantID         string         `gorm:"column:tenant_id;not null;index:idx_raw_event_source_tenant" json:"tenant_id"`
	RawPayload       datatypes.JSON `gorm:"type:jsonb;column:raw_payload;not null" json:"raw_payload"`
	ProcessingStatus string         `gorm:"column:processing_status;not null;default:received;index" json:"processing_status"`
	ReceivedAt       time.Time      `gorm:"column:received_at;not null;index;autoCreateTime" json:"received_at"`
}

func (RawEvent) TableName() string { return "raw_event" }

// EventID derives the stable event identity from source, delivery id and the
// payload bytes. Re-delivering the same payload yields the same id, which is
// what makes the at-least-once ingestion boundary safe.
func EventID(source, deliveryID string, payload []byte) string {
	h := sha256.New()
	_, _ = h.Write([]byte(source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(deliveryID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// docNamespace anchors deterministic document id derivation. Fixed forever;
// changing it would re-key every document on replay.
var docNamespace = uuid.MustParse("8f2f7a46-1c31-4f2e-9be1-5be3c9b3a013")

// DocID maps an event id onto a stable document id so reprocessing the same
// RawEvent always lands on the same CanonicalDocument row.
func DocID(eventID string) uuid.UUID {
	return uuid.NewSHA1(docNamespace, []byte(eventID))
}

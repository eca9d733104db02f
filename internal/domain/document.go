package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DocTypeIssue        = "issue"
	DocTypeDecision     = "decision"
	DocTypeInfo         = "info"
	DocTypeUnclassified = "unclassified"
)

// Entity is one extracted mention (person, repo, channel, page) stored on the
// document's entities JSONB column.
type Entity struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// Signal is one detected heuristic hit (urgency, sentiment, decision
// language) with the phrase that triggered it.
type Signal struct {
	Category string `json:"category"`
	Phrase   string `json:"phrase"`
}

// CanonicalDocument is the normalized representation of a source event,
// uniform across tools. Created by the normalizer, mutated in place by the
// enricher, never deleted while its RawEvent exists.
type CanonicalDocument struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID string    `gorm:"column:tenant_id;not null;index:idx_document_tenant_type" json:"tenant_id"`
	Source   string    `gorm:"column:source;not null;index" json:"source"`
	DocType  string    `gorm:"column:doc_type;not null;default:unclassified;index:idx_document_tenant_type" json:"doc_type"`

	Title    string `gorm:"column:title;type:text;not null" json:"title"`
	BodyText string `gorm:"column:body_text;type:text;not null" json:"body_text"`

	// EntityKey identifies the logical source entity (Slack thread, GitHub
	// issue, Notion page) and doubles as the bus partition key.
	EntityKey string `gorm:"column:entity_key;not null;index" json:"entity_key"`

	Entities datatypes.JSON `gorm:"type:jsonb;column:entities" json:"entities"`
	Signals  datatypes.JSON `gorm:"type:jsonb;column:signals" json:"signals"`

	SourcePermalink string `gorm:"column:source_permalink" json:"source_permalink"`

	EnrichmentPartial bool `gorm:"column:enrichment_partial;not null;default:false" json:"enrichment_partial"`
	EmbeddingPending  bool `gorm:"column:embedding_pending;not null;default:false" json:"embedding_pending"`

	RawEventID string `gorm:"column:raw_event_id;not null;index" json:"raw_event_id"`

	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (CanonicalDocument) TableName() string { return "canonical_document" }

package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawEventMessage announces an accepted delivery on the raw channel.
type RawEventMessage struct {
	EventID    string          `json:"event_id"`
	Source     string          `json:"source"`
	TenantID   string          `json:"tenant_id"`
	EntityKey  string          `json:"entity_key"`
	RawPayload json.RawMessage `json:"raw_payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// EnrichRequest asks the enricher to process a normalized document.
type EnrichRequest struct {
	DocID     uuid.UUID `json:"doc_id"`
	TenantID  string    `json:"tenant_id"`
	Source    string    `json:"source"`
	EntityKey string    `json:"entity_key"`
	EventID   string    `json:"event_id"`
}

// EmbedRequest asks the embedder to (re)vectorize a document.
type EmbedRequest struct {
	DocID     uuid.UUID `json:"doc_id"`
	TenantID  string    `json:"tenant_id"`
	Source    string    `json:"source"`
	EntityKey string    `json:"entity_key"`
	EventID   string    `json:"event_id"`
}

// IndexUpdate is published only after the vector write is durable; consumers
// may rely on the index containing the document's current embedding. The
// vector rides along so the classifier can run similarity queries without a
// second embedding call.
type IndexUpdate struct {
	DocID        uuid.UUID `json:"doc_id"`
	TenantID     string    `json:"tenant_id"`
	Source       string    `json:"source"`
	EntityKey    string    `json:"entity_key"`
	EventID      string    `json:"event_id"`
	ModelVersion string    `json:"vector_model_version"`
	Values       []float32 `json:"values"`
}

func Encode(v any) ([]byte, error)   { return json.Marshal(v) }
func Decode(raw []byte, v any) error { return json.Unmarshal(raw, v) }

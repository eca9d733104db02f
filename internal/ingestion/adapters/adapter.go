package adapters

import (
	"fmt"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
)

// NormalizedDoc carries the deterministic fields an adapter derives from a
// raw payload. Given the same payload bytes an adapter must produce the same
// NormalizedDoc, byte for byte; that determinism is what makes reprocessing
// idempotent.
type NormalizedDoc struct {
	Title     string
	BodyText  string
	EntityKey string
	Permalink string
}

// Adapter maps one source's payload shape onto the canonical schema.
type Adapter interface {
	Source() string
	// EntityKey extracts the logical entity identity (thread, issue, page)
	// from the payload. It runs at the ingestion boundary to pick the bus
	// partition, before any normalization.
	EntityKey(payload []byte) (string, error)
	Normalize(ev *types.RawEvent) (*NormalizedDoc, error)
}

// ForSource resolves the adapter for a source tag. The set is closed; an
// unknown tag is an unparseable payload, not a fallthrough.
func ForSource(source string) (Adapter, error) {
	switch source {
	case types.SourceSlack:
		return slackAdapter{}, nil
	case types.SourceGitHub:
		return githubAdapter{}, nil
	case types.SourceNotion:
		return notionAdapter{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q", apierr.ErrUnparseablePayload, source)
	}
}

func unparseable(source, detail string) error {
	return fmt.Errorf("%w: %s: %s", apierr.ErrUnparseablePayload, source, detail)
}

package vector

import "context"

// Record is one vector plus filterable metadata. IDs are always canonical
// document ids; the index is never authoritative and every entry must point
// back at a truth-store document.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

type Match struct {
	ID    string
	Score float64
}

// Store is the vector index data plane. Upserting an existing id replaces the
// stored vector, which is what keeps at most one live vector per document.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	// ListIDs pages through every id in a namespace; used by the
	// reconciliation sweep.
	ListIDs(ctx context.Context, namespace string) ([]string, error)
}

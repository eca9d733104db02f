package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/hivemindhq/hivemind-backend/internal/vector"
)

// Store is an in-memory vector index keyed by namespace then id. It mirrors
// the pinecone store's replace-on-upsert semantics and cosine scoring, and
// backs tests and local single-process mode.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]vector.Record
}

func NewStore() *Store {
	return &Store{namespaces: make(map[string]map[string]vector.Record)}
}

func (s *Store) Upsert(_ context.Context, namespace string, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]vector.Record)
		s.namespaces[namespace] = ns
	}
	for _, r := range records {
		values := append([]float32(nil), r.Values...)
		stored := vector.Record{ID: r.ID, Values: values, Metadata: r.Metadata}
		ns[r.ID] = stored
	}
	return nil
}

func (s *Store) Query(_ context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]vector.Match, error) {
	if topK <= 0 {
		topK = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.namespaces[namespace]
	matches := make([]vector.Match, 0, len(ns))
	for id, rec := range ns {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		matches = append(matches, vector.Match{ID: id, Score: cosine(q, rec.Values)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) Delete(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

func (s *Store) ListIDs(_ context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.namespaces[namespace]
	out := make([]string, 0, len(ns))
	for id := range ns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// matchesFilter supports the equality subset of the pinecone filter syntax,
// which is all the pipeline uses.
func matchesFilter(metadata, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		if metadata == nil {
			return false
		}
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package memory

import (
	"context"
	"testing"

	"github.com/hivemindhq/hivemind-backend/internal/vector"
)

func TestQueryRanksByCosine(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.Upsert(ctx, "t1", []vector.Record{
		{ID: "near", Values: []float32{1, 0.1}},
		{ID: "far", Values: []float32{0, 1}},
		{ID: "exact", Values: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := s.Query(ctx, "t1", []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "exact" || matches[1].ID != "near" {
		t.Fatalf("unexpected ranking: %+v", matches)
	}
	if matches[0].Score < 0.999 {
		t.Fatalf("identical vector should score ~1.0, got %f", matches[0].Score)
	}
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.Upsert(ctx, "t1", []vector.Record{{ID: "a", Values: []float32{1, 0}}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "t1", []vector.Record{{ID: "a", Values: []float32{0, 1}}}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	ids, err := s.ListIDs(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("upsert must replace, not append: %v", ids)
	}

	matches, err := s.Query(ctx, "t1", []float32{0, 1}, 1, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if matches[0].Score < 0.999 {
		t.Fatalf("stored vector was not replaced, score %f", matches[0].Score)
	}
}

func TestNamespaceIsolationAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.Upsert(ctx, "t1", []vector.Record{
		{ID: "a", Values: []float32{1, 0}, Metadata: map[string]any{"source": "slack"}},
		{ID: "b", Values: []float32{1, 0}, Metadata: map[string]any{"source": "github"}},
	})
	_ = s.Upsert(ctx, "t2", []vector.Record{{ID: "c", Values: []float32{1, 0}}})

	matches, err := s.Query(ctx, "t1", []float32{1, 0}, 10, map[string]any{"source": "slack"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("filter failed: %+v", matches)
	}

	ids, _ := s.ListIDs(ctx, "t2")
	if len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("namespace isolation failed: %v", ids)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.Upsert(ctx, "t1", []vector.Record{
		{ID: "a", Values: []float32{1, 0}},
		{ID: "b", Values: []float32{0, 1}},
	})
	if err := s.Delete(ctx, "t1", []string{"a", "missing"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, _ := s.ListIDs(ctx, "t1")
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("unexpected ids after delete: %v", ids)
	}
}

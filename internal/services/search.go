package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hivemindhq/hivemind-backend/internal/clients/openai"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/vector"
)

// SearchFilters narrow a query by exact match. Zero values mean no
// restriction; set fields map onto the metadata stored with each vector.
type SearchFilters struct {
	Source  string `json:"source"`
	DocType string `json:"doc_type"`
}

func (f SearchFilters) metadata() map[string]any {
	m := map[string]any{}
	if f.Source != "" {
		m["source"] = f.Source
	}
	if f.DocType != "" {
		m["doc_type"] = f.DocType
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func (f SearchFilters) match(doc *types.CanonicalDocument) bool {
	if f.Source != "" && doc.Source != f.Source {
		return false
	}
	if f.DocType != "" && doc.DocType != f.DocType {
		return false
	}
	return true
}

type SearchResult struct {
	Doc         *types.CanonicalDocument `json:"doc"`
	Score       float64                  `json:"score"`
	Explanation string                   `json:"explanation"`
	Permalink   string                   `json:"permalink"`
}

// SearchResponse marks degraded results so callers can tell a full semantic
// answer from the lexical fallback used when the embedding dependency is
// down.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
}

// SearchService answers retrieval queries. Every returned document is read
// from the truth store; the vector index only proposes ids and is never
// trusted for content. An index id with no backing document is an orphan:
// it is dropped from the response and queued for removal, never fabricated.
type SearchService interface {
	Search(ctx context.Context, tenantID, query string, filters SearchFilters, topK int) (*SearchResponse, error)
}

type searchService struct {
	log       *logger.Logger
	documents docsrepo.DocumentRepo
	ai        openai.Client
	store     vector.Store
}

func NewSearchService(
	log *logger.Logger,
	documents docsrepo.DocumentRepo,
	ai openai.Client,
	store vector.Store,
) (SearchService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if documents == nil {
		return nil, fmt.Errorf("document repo required")
	}
	if ai == nil {
		return nil, fmt.Errorf("openai client required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	return &searchService{
		log:       log.With("service", "SearchService"),
		documents: documents,
		ai:        ai,
		store:     store,
	}, nil
}

func (s *searchService) Search(ctx context.Context, tenantID, query string, filters SearchFilters, topK int) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &SearchResponse{Results: []SearchResult{}}, nil
	}
	if topK <= 0 {
		topK = 10
	}

	vectors, err := s.ai.Embed(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		s.log.Warn("query embedding unavailable, serving lexical fallback",
			"tenant_id", tenantID,
			"error", err,
		)
		return s.lexical(ctx, tenantID, query, filters, topK)
	}

	matches, err := s.store.Query(ctx, tenantID, vectors[0], topK, filters.metadata())
	if err != nil {
		s.log.Warn("vector query failed, serving lexical fallback",
			"tenant_id", tenantID,
			"error", err,
		)
		return s.lexical(ctx, tenantID, query, filters, topK)
	}

	ids := make([]uuid.UUID, 0, len(matches))
	scores := make(map[uuid.UUID]float64, len(matches))
	for _, m := range matches {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		scores[id] = m.Score
	}

	docs, err := s.documents.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.CanonicalDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]SearchResult, 0, len(ids))
	var orphans []string
	for _, id := range ids {
		doc, ok := byID[id]
		if !ok {
			orphans = append(orphans, id.String())
			continue
		}
		results = append(results, SearchResult{
			Doc:         doc,
			Score:       scores[id],
			Explanation: explainSemantic(doc, scores[id]),
			Permalink:   doc.SourcePermalink,
		})
	}

	if len(orphans) > 0 {
		s.log.Warn("orphaned index entries dropped from results",
			"tenant_id", tenantID,
			"count", len(orphans),
		)
		if err := s.store.Delete(ctx, tenantID, orphans); err != nil {
			s.log.Warn("orphan cleanup failed", "tenant_id", tenantID, "error", err)
		}
	}

	return &SearchResponse{Results: results}, nil
}

func (s *searchService) lexical(ctx context.Context, tenantID, query string, filters SearchFilters, topK int) (*SearchResponse, error) {
	docs, err := s.documents.SearchLexical(ctx, nil, tenantID, query, topK)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(docs))
	for _, d := range docs {
		if !filters.match(d) {
			continue
		}
		results = append(results, SearchResult{
			Doc:         d,
			Explanation: fmt.Sprintf("text match for %q, semantic search degraded", query),
			Permalink:   d.SourcePermalink,
		})
	}
	return &SearchResponse{Results: results, Degraded: true}, nil
}

// explainSemantic says why the index proposed this document: the similarity
// score plus the signal categories detected at enrichment time.
func explainSemantic(doc *types.CanonicalDocument, score float64) string {
	out := fmt.Sprintf("semantic similarity %.2f", score)
	if len(doc.Signals) == 0 {
		return out
	}
	var signals []types.Signal
	if err := json.Unmarshal(doc.Signals, &signals); err != nil || len(signals) == 0 {
		return out
	}
	seen := map[string]bool{}
	var cats []string
	for _, sig := range signals {
		if !seen[sig.Category] {
			seen[sig.Category] = true
			cats = append(cats, sig.Category)
		}
	}
	return out + ", signals: " + strings.Join(cats, ", ")
}

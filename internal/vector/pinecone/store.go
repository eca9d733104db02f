package pinecone

import (
	"context"
	"fmt"
	"os"
	"strings"

	pc "github.com/hivemindhq/hivemind-backend/internal/clients/pinecone"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/vector"
)

type store struct {
	log       *logger.Logger
	pc        pc.Client
	indexName string
	indexHost string
	nsPrefix  string
}

func NewStore(log *logger.Logger, client pc.Client) (vector.Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("pinecone client required")
	}

	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))

	nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
	if nsPrefix == "" {
		nsPrefix = "hm"
	}

	// If host missing, bootstrap via describe_index (fine for local/dev;
	// avoid in prod).
	if host == "" {
		desc, err := client.DescribeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		if host == "" {
			return nil, fmt.Errorf("pinecone describe_index returned empty host")
		}
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
			"index_name", indexName,
			"index_host", host,
		)
	}

	return &store{
		log:       log.With("service", "PineconeVectorStore"),
		pc:        client,
		indexName: indexName,
		indexHost: host,
		nsPrefix:  nsPrefix,
	}, nil
}

func (s *store) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	vectors := make([]pc.Vector, 0, len(records))
	for _, r := range records {
		vectors = append(vectors, pc.Vector{
			ID:       r.ID,
			Values:   r.Values,
			Metadata: r.Metadata,
		})
	}
	_, err := s.pc.UpsertVectors(ctx, s.indexHost, pc.UpsertRequest{
		Namespace: s.qualifyNamespace(namespace),
		Vectors:   vectors,
	})
	return err
}

func (s *store) Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]vector.Match, error) {
	if s == nil || s.pc == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	resp, err := s.pc.Query(ctx, s.indexHost, pc.QueryRequest{
		Namespace:       s.qualifyNamespace(namespace),
		Vector:          q,
		TopK:            topK,
		Filter:          filter,
		IncludeValues:   false,
		IncludeMetadata: false,
	})
	if err != nil {
		return nil, err
	}
	out := make([]vector.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		out = append(out, vector.Match{ID: m.ID, Score: m.Score})
	}
	return out, nil
}

func (s *store) Delete(ctx context.Context, namespace string, ids []string) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	if len(ids) == 0 {
		return nil
	}
	return s.pc.DeleteVectors(ctx, s.indexHost, pc.DeleteRequest{
		Namespace: s.qualifyNamespace(namespace),
		IDs:       ids,
	})
}

func (s *store) ListIDs(ctx context.Context, namespace string) ([]string, error) {
	if s == nil || s.pc == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	ns := s.qualifyNamespace(namespace)
	var out []string
	token := ""
	for {
		resp, err := s.pc.ListVectorIDs(ctx, s.indexHost, ns, token)
		if err != nil {
			return nil, err
		}
		for _, v := range resp.Vectors {
			if strings.TrimSpace(v.ID) != "" {
				out = append(out, v.ID)
			}
		}
		token = resp.Pagination.Next
		if token == "" {
			return out, nil
		}
	}
}

func (s *store) qualifyNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + ns
}

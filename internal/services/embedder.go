package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	"github.com/hivemindhq/hivemind-backend/internal/clients/openai"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/vector"
)

// EmbedderService consumes the embed channel and keeps at most one live
// vector per document. A material text change supersedes the previous
// embedding generation; an unchanged document is a no-op. The index update
// message goes out only after both the vector write and the embedding record
// are durable.
type EmbedderService interface {
	Handle(ctx context.Context, msg bus.Message) error
}

type embedderService struct {
	log         *logger.Logger
	documents   docsrepo.DocumentRepo
	embeddings  docsrepo.EmbeddingRepo
	checkpoints pipelinerepo.CheckpointRepo
	eventBus    bus.Bus
	ai          openai.Client
	store       vector.Store
}

func NewEmbedderService(
	log *logger.Logger,
	documents docsrepo.DocumentRepo,
	embeddings docsrepo.EmbeddingRepo,
	checkpoints pipelinerepo.CheckpointRepo,
	eventBus bus.Bus,
	ai openai.Client,
	store vector.Store,
) (EmbedderService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if documents == nil {
		return nil, fmt.Errorf("document repo required")
	}
	if embeddings == nil {
		return nil, fmt.Errorf("embedding repo required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint repo required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("bus required")
	}
	if ai == nil {
		return nil, fmt.Errorf("openai client required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	return &embedderService{
		log:         log.With("service", "EmbedderService"),
		documents:   documents,
		embeddings:  embeddings,
		checkpoints: checkpoints,
		eventBus:    eventBus,
		ai:          ai,
		store:       store,
	}, nil
}

func (s *embedderService) Handle(ctx context.Context, msg bus.Message) error {
	var req bus.EmbedRequest
	if err := bus.Decode(msg.Payload, &req); err != nil {
		return fmt.Errorf("%w: embed request: %s", apierr.ErrUnparseablePayload, err.Error())
	}

	doc, err := s.documents.GetByID(ctx, nil, req.DocID)
	if err != nil {
		return err
	}

	text := EmbeddingText(doc)
	hash := contentHash(text)

	if active, err := s.embeddings.GetActiveByDocID(ctx, nil, doc.ID); err == nil {
		if active.ContentHash == hash && active.ModelVersion == s.ai.EmbedModel() {
			s.log.Debug("embedding unchanged, skipping",
				"doc_id", doc.ID.String(),
				"generation", active.Generation,
			)
			if doc.EmbeddingPending {
				if err := s.documents.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
					"embedding_pending": false,
				}); err != nil {
					return err
				}
			}
			return s.checkpoints.Advance(ctx, nil, req.Source, req.TenantID, types.StageEmbed, req.EventID)
		}
	}

	vectors, err := s.ai.Embed(ctx, []string{text})
	if err != nil {
		s.markPending(ctx, doc.ID)
		return fmt.Errorf("%w: embed: %s", apierr.ErrTransientDependency, err.Error())
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		s.markPending(ctx, doc.ID)
		return fmt.Errorf("%w: embed returned %d vectors", apierr.ErrTransientDependency, len(vectors))
	}
	values := vectors[0]

	// Upserting on the doc id replaces the old vector in place, so the index
	// never holds two live vectors for one document.
	rec := vector.Record{
		ID:     doc.ID.String(),
		Values: values,
		Metadata: map[string]any{
			"tenant_id":  doc.TenantID,
			"source":     doc.Source,
			"doc_type":   doc.DocType,
			"entity_key": doc.EntityKey,
		},
	}
	if err := s.store.Upsert(ctx, doc.TenantID, []vector.Record{rec}); err != nil {
		s.markPending(ctx, doc.ID)
		return fmt.Errorf("%w: vector upsert: %s", apierr.ErrTransientDependency, err.Error())
	}

	stored, err := s.embeddings.Supersede(ctx, nil, &types.EmbeddingRecord{
		DocID:        doc.ID,
		TenantID:     doc.TenantID,
		ModelVersion: s.ai.EmbedModel(),
		ContentHash:  hash,
	})
	if err != nil {
		return err
	}
	if err := s.documents.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
		"embedding_pending": false,
	}); err != nil {
		return err
	}

	next := bus.IndexUpdate{
		DocID:        doc.ID,
		TenantID:     req.TenantID,
		Source:       req.Source,
		EntityKey:    req.EntityKey,
		EventID:      req.EventID,
		ModelVersion: stored.ModelVersion,
		Values:       values,
	}
	encoded, err := bus.Encode(next)
	if err != nil {
		return err
	}
	if err := s.eventBus.Publish(ctx, bus.ChannelIndex, req.TenantID+"/"+req.EntityKey, encoded); err != nil {
		return err
	}

	if err := s.checkpoints.Advance(ctx, nil, req.Source, req.TenantID, types.StageEmbed, req.EventID); err != nil {
		return err
	}

	s.log.Debug("embedded",
		"doc_id", doc.ID.String(),
		"generation", stored.Generation,
		"model", stored.ModelVersion,
	)
	return nil
}

// markPending flags the document as stale in the index. The flag is cleared
// by the next successful embed; a re-read during the gap serves the truth
// store row, which is always current.
func (s *embedderService) markPending(ctx context.Context, docID uuid.UUID) {
	if err := s.documents.UpdateFields(ctx, nil, docID, map[string]interface{}{
		"embedding_pending": true,
	}); err != nil {
		s.log.Warn("failed to mark embedding pending", "doc_id", docID.String(), "error", err)
	}
}

// EmbeddingText builds the canonical text representation fed to the model:
// title, body, then detected signal phrases so similar failure language
// clusters even across different wording in titles.
func EmbeddingText(doc *types.CanonicalDocument) string {
	var b strings.Builder
	b.WriteString(doc.Title)
	b.WriteString("\n")
	b.WriteString(doc.BodyText)

	var signals []types.Signal
	if len(doc.Signals) > 0 {
		if err := json.Unmarshal(doc.Signals, &signals); err == nil {
			for _, sig := range signals {
				b.WriteString("\n")
				b.WriteString(sig.Category)
				b.WriteString(": ")
				b.WriteString(sig.Phrase)
			}
		}
	}
	return b.String()
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	ingestrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/ingest"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/ingestion/adapters"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/vector"
)

// ReplayReport summarizes one replay run.
type ReplayReport struct {
	Published   int    `json:"published"`
	Skipped     int    `json:"skipped"`
	LastEventID string `json:"last_event_id"`
}

// ReconcileReport summarizes one reconciliation sweep of the vector index
// against the truth store.
type ReconcileReport struct {
	IndexEntries   int `json:"index_entries"`
	OrphansRemoved int `json:"orphans_removed"`
	Reindexed      int `json:"reindexed"`
}

// ReplayService re-drives the pipeline from the raw event log and repairs
// index drift. Replay is safe because every stage is idempotent: the same
// raw event always lands on the same document id.
type ReplayService interface {
	// Replay republishes raw events for one source and tenant in received
	// order, starting after the cursor (empty for the beginning).
	Replay(ctx context.Context, source, tenantID, afterEventID string, limit int) (*ReplayReport, error)
	// Reconcile removes index entries with no backing document and
	// re-queues documents whose active embedding is missing from the index.
	Reconcile(ctx context.Context, tenantID string) (*ReconcileReport, error)
	// ReplayDeadLetter republishes one dead-lettered message to its
	// original channel and marks it replayed.
	ReplayDeadLetter(ctx context.Context, id uuid.UUID) (*types.DeadLetterMessage, error)
	// Reclassify forces one document back through the embed and classify
	// stages, superseding its current embedding generation.
	Reclassify(ctx context.Context, tenantID string, docID uuid.UUID) error
}

type replayService struct {
	log         *logger.Logger
	rawEvents   ingestrepo.RawEventRepo
	embeddings  docsrepo.EmbeddingRepo
	documents   docsrepo.DocumentRepo
	deadLetters pipelinerepo.DeadLetterRepo
	eventBus    bus.Bus
	store       vector.Store
}

func NewReplayService(
	log *logger.Logger,
	rawEvents ingestrepo.RawEventRepo,
	documents docsrepo.DocumentRepo,
	embeddings docsrepo.EmbeddingRepo,
	deadLetters pipelinerepo.DeadLetterRepo,
	eventBus bus.Bus,
	store vector.Store,
) (ReplayService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rawEvents == nil {
		return nil, fmt.Errorf("raw event repo required")
	}
	if documents == nil {
		return nil, fmt.Errorf("document repo required")
	}
	if embeddings == nil {
		return nil, fmt.Errorf("embedding repo required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter repo required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("bus required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	return &replayService{
		log:         log.With("service", "ReplayService"),
		rawEvents:   rawEvents,
		documents:   documents,
		embeddings:  embeddings,
		deadLetters: deadLetters,
		eventBus:    eventBus,
		store:       store,
	}, nil
}

func (s *replayService) Replay(ctx context.Context, source, tenantID, afterEventID string, limit int) (*ReplayReport, error) {
	adapter, err := adapters.ForSource(source)
	if err != nil {
		return nil, err
	}

	events, err := s.rawEvents.ListForReplay(ctx, nil, source, tenantID, afterEventID, limit)
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{LastEventID: afterEventID}
	for _, ev := range events {
		entityKey, err := adapter.EntityKey(ev.RawPayload)
		if err != nil {
			// Unparseable then, unparseable now. The audit row stays; the
			// pipeline has nothing new to do with it.
			report.Skipped++
			report.LastEventID = ev.EventID
			continue
		}
		msg := bus.RawEventMessage{
			EventID:    ev.EventID,
			Source:     ev.Source,
			TenantID:   ev.TenantID,
			EntityKey:  entityKey,
			RawPayload: []byte(ev.RawPayload),
			ReceivedAt: ev.ReceivedAt,
		}
		encoded, err := bus.Encode(msg)
		if err != nil {
			return nil, err
		}
		if err := s.eventBus.Publish(ctx, bus.ChannelRaw, ev.TenantID+"/"+entityKey, encoded); err != nil {
			return report, err
		}
		report.Published++
		report.LastEventID = ev.EventID
	}

	s.log.Info("replay run complete",
		"source", source,
		"tenant_id", tenantID,
		"published", report.Published,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (s *replayService) Reconcile(ctx context.Context, tenantID string) (*ReconcileReport, error) {
	indexIDs, err := s.store.ListIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{IndexEntries: len(indexIDs)}

	parsed := make([]uuid.UUID, 0, len(indexIDs))
	var malformed []string
	for _, raw := range indexIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			malformed = append(malformed, raw)
			continue
		}
		parsed = append(parsed, id)
	}

	exists, err := s.documents.ExistsByIDs(ctx, nil, parsed)
	if err != nil {
		return nil, err
	}

	orphans := malformed
	indexed := make(map[uuid.UUID]bool, len(parsed))
	for _, id := range parsed {
		if !exists[id] {
			orphans = append(orphans, id.String())
			continue
		}
		indexed[id] = true
	}
	if len(orphans) > 0 {
		if err := s.store.Delete(ctx, tenantID, orphans); err != nil {
			return report, err
		}
		report.OrphansRemoved = len(orphans)
	}

	// The inverse drift: an active embedding record whose vector is missing
	// from the index. Queue those documents for a fresh embed pass.
	active, err := s.embeddings.ListActiveByTenant(ctx, nil, tenantID)
	if err != nil {
		return report, err
	}
	for _, rec := range active {
		if indexed[rec.DocID] {
			continue
		}
		doc, err := s.documents.GetByID(ctx, nil, rec.DocID)
		if err != nil {
			continue
		}
		// The embedder skips documents whose active record still matches the
		// content hash, so drop the record to force a fresh vector write.
		if err := s.embeddings.DeactivateByDocID(ctx, nil, rec.DocID); err != nil {
			return report, err
		}
		req := bus.EmbedRequest{
			DocID:     doc.ID,
			TenantID:  doc.TenantID,
			Source:    doc.Source,
			EntityKey: doc.EntityKey,
			EventID:   doc.RawEventID,
		}
		encoded, err := bus.Encode(req)
		if err != nil {
			return report, err
		}
		if err := s.eventBus.Publish(ctx, bus.ChannelEmbed, doc.TenantID+"/"+doc.EntityKey, encoded); err != nil {
			return report, err
		}
		report.Reindexed++
	}

	s.log.Info("reconciliation sweep complete",
		"tenant_id", tenantID,
		"index_entries", report.IndexEntries,
		"orphans_removed", report.OrphansRemoved,
		"reindexed", report.Reindexed,
	)
	return report, nil
}

func (s *replayService) Reclassify(ctx context.Context, tenantID string, docID uuid.UUID) error {
	doc, err := s.documents.GetByID(ctx, nil, docID)
	if err != nil {
		return err
	}
	if doc.TenantID != tenantID {
		return gorm.ErrRecordNotFound
	}
	// The embedder short-circuits on an unchanged content hash, so retire the
	// active generation to force a fresh vector and a fresh classification.
	if err := s.embeddings.DeactivateByDocID(ctx, nil, docID); err != nil {
		return err
	}
	req := bus.EmbedRequest{
		DocID:     doc.ID,
		TenantID:  doc.TenantID,
		Source:    doc.Source,
		EntityKey: doc.EntityKey,
		EventID:   doc.RawEventID,
	}
	encoded, err := bus.Encode(req)
	if err != nil {
		return err
	}
	return s.eventBus.Publish(ctx, bus.ChannelEmbed, doc.TenantID+"/"+doc.EntityKey, encoded)
}

func (s *replayService) ReplayDeadLetter(ctx context.Context, id uuid.UUID) (*types.DeadLetterMessage, error) {
	msg, err := s.deadLetters.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if err := s.eventBus.Publish(ctx, msg.Channel, msg.PartitionKey, []byte(msg.Payload)); err != nil {
		return nil, err
	}
	if err := s.deadLetters.MarkReplayed(ctx, nil, msg.ID); err != nil {
		return nil, err
	}
	msg.Status = types.DeadLetterStatusReplayed
	s.log.Info("dead letter replayed", "id", msg.ID.String(), "channel", msg.Channel)
	return msg, nil
}

package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	ingestrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/ingest"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/ingestion/adapters"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

// NormalizerService consumes the raw channel and maps each source payload
// onto the canonical schema. Normalization is a pure function of the payload
// bytes, so replaying a raw event overwrites the document with identical
// values.
type NormalizerService interface {
	Handle(ctx context.Context, msg bus.Message) error
}

type normalizerService struct {
	log         *logger.Logger
	rawEvents   ingestrepo.RawEventRepo
	documents   docsrepo.DocumentRepo
	checkpoints pipelinerepo.CheckpointRepo
	eventBus    bus.Bus
}

func NewNormalizerService(
	log *logger.Logger,
	rawEvents ingestrepo.RawEventRepo,
	documents docsrepo.DocumentRepo,
	checkpoints pipelinerepo.CheckpointRepo,
	eventBus bus.Bus,
) (NormalizerService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rawEvents == nil {
		return nil, fmt.Errorf("raw event repo required")
	}
	if documents == nil {
		return nil, fmt.Errorf("document repo required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint repo required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("bus required")
	}
	return &normalizerService{
		log:         log.With("service", "NormalizerService"),
		rawEvents:   rawEvents,
		documents:   documents,
		checkpoints: checkpoints,
		eventBus:    eventBus,
	}, nil
}

func (s *normalizerService) Handle(ctx context.Context, msg bus.Message) error {
	var raw bus.RawEventMessage
	if err := bus.Decode(msg.Payload, &raw); err != nil {
		return fmt.Errorf("%w: raw message: %s", apierr.ErrUnparseablePayload, err.Error())
	}

	adapter, err := adapters.ForSource(raw.Source)
	if err != nil {
		return err
	}

	ev := &types.RawEvent{
		EventID:    raw.EventID,
		Source:     raw.Source,
		TenantID:   raw.TenantID,
		RawPayload: datatypes.JSON(raw.RawPayload),
	}
	norm, err := adapter.Normalize(ev)
	if err != nil {
		if errors.Is(err, apierr.ErrUnparseablePayload) {
			// The raw event stays in the audit log; only its status moves.
			if uErr := s.rawEvents.UpdateStatus(ctx, nil, raw.EventID, types.RawEventStatusFailed); uErr != nil {
				s.log.Error("failed to mark raw event failed", "event_id", raw.EventID, "error", uErr)
			}
		}
		return err
	}

	doc := &types.CanonicalDocument{
		ID:              types.DocID(raw.EventID),
		TenantID:        raw.TenantID,
		Source:          raw.Source,
		DocType:         types.DocTypeUnclassified,
		Title:           norm.Title,
		BodyText:        norm.BodyText,
		EntityKey:       norm.EntityKey,
		SourcePermalink: norm.Permalink,
		RawEventID:      raw.EventID,
	}
	if err := s.documents.UpsertNormalized(ctx, nil, doc); err != nil {
		return err
	}
	if err := s.rawEvents.UpdateStatus(ctx, nil, raw.EventID, types.RawEventStatusNormalized); err != nil {
		return err
	}

	next := bus.EnrichRequest{
		DocID:     doc.ID,
		TenantID:  raw.TenantID,
		Source:    raw.Source,
		EntityKey: norm.EntityKey,
		EventID:   raw.EventID,
	}
	encoded, err := bus.Encode(next)
	if err != nil {
		return err
	}
	if err := s.eventBus.Publish(ctx, bus.ChannelEnrich, raw.TenantID+"/"+norm.EntityKey, encoded); err != nil {
		return err
	}

	// Cursor only advances once the document write and the downstream publish
	// are both done.
	if err := s.checkpoints.Advance(ctx, nil, raw.Source, raw.TenantID, types.StageNormalize, raw.EventID); err != nil {
		return err
	}

	s.log.Debug("normalized",
		"event_id", raw.EventID,
		"doc_id", doc.ID.String(),
		"source", raw.Source,
	)
	return nil
}

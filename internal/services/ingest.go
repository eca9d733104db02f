package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	ingestrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/ingest"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/ingestion/adapters"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

// AcceptResult reports what happened to one inbound delivery.
type AcceptResult struct {
	EventID   string    `json:"event_id"`
	DocID     uuid.UUID `json:"doc_id"`
	Duplicate bool      `json:"duplicate"`
}

// IngestService is the at-least-once boundary. Accept either admits a
// delivery exactly once or acknowledges it as already seen; it never
// processes a (source, delivery_id) pair twice.
type IngestService interface {
	Accept(ctx context.Context, source, deliveryID, tenantID string, payload []byte) (*AcceptResult, error)
}

type ingestService struct {
	log        *logger.Logger
	deliveries ingestrepo.DeliveryRepo
	rawEvents  ingestrepo.RawEventRepo
	eventBus   bus.Bus
}

func NewIngestService(
	log *logger.Logger,
	deliveries ingestrepo.DeliveryRepo,
	rawEvents ingestrepo.RawEventRepo,
	eventBus bus.Bus,
) (IngestService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repo required")
	}
	if rawEvents == nil {
		return nil, fmt.Errorf("raw event repo required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("bus required")
	}
	return &ingestService{
		log:        log.With("service", "IngestService"),
		deliveries: deliveries,
		rawEvents:  rawEvents,
		eventBus:   eventBus,
	}, nil
}

// Accept order matters: the RawEvent row is written and the raw message
// published before the delivery ledger entry. A crash after publish but
// before the ledger write means the source re-delivers and we publish again;
// downstream the deterministic event id collapses the duplicate. The reverse
// order could drop an event forever.
func (s *ingestService) Accept(ctx context.Context, source, deliveryID, tenantID string, payload []byte) (*AcceptResult, error) {
	adapter, err := adapters.ForSource(source)
	if err != nil {
		return nil, err
	}

	eventID := types.EventID(source, deliveryID, payload)
	result := &AcceptResult{
		EventID: eventID,
		DocID:   types.DocID(eventID),
	}

	seen, err := s.deliveries.Exists(ctx, nil, source, deliveryID)
	if err != nil {
		return nil, err
	}
	if seen {
		s.log.Info("duplicate delivery acknowledged",
			"source", source,
			"delivery_id", deliveryID,
			"event_id", eventID,
		)
		result.Duplicate = true
		return result, nil
	}

	// Partition by the logical source entity so all events for one thread,
	// issue or page stay ordered. This also rejects unparseable payloads at
	// the door instead of dead-lettering them later.
	entityKey, err := adapter.EntityKey(payload)
	if err != nil {
		return nil, err
	}

	ev := &types.RawEvent{
		EventID:          eventID,
		Source:           source,
		TenantID:         tenantID,
		RawPayload:       datatypes.JSON(payload),
		ProcessingStatus: types.RawEventStatusReceived,
	}
	if err := s.rawEvents.CreateIfAbsent(ctx, nil, ev); err != nil {
		return nil, err
	}

	msg := bus.RawEventMessage{
		EventID:    eventID,
		Source:     source,
		TenantID:   tenantID,
		EntityKey:  entityKey,
		RawPayload: payload,
		ReceivedAt: ev.ReceivedAt,
	}
	encoded, err := bus.Encode(msg)
	if err != nil {
		return nil, err
	}
	if err := s.eventBus.Publish(ctx, bus.ChannelRaw, tenantID+"/"+entityKey, encoded); err != nil {
		return nil, err
	}

	first, err := s.deliveries.CreateIfAbsent(ctx, nil, &types.DeliveryRecord{
		Source:     source,
		DeliveryID: deliveryID,
		TenantID:   tenantID,
	})
	if err != nil {
		return nil, err
	}
	if !first {
		// Concurrent accept of the same delivery; both published, downstream
		// dedup absorbs it.
		result.Duplicate = true
		return result, nil
	}

	s.log.Info("delivery accepted",
		"source", source,
		"delivery_id", deliveryID,
		"event_id", eventID,
		"entity_key", entityKey,
	)
	return result, nil
}

package ingest

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type RawEventRepo interface {
	// CreateIfAbsent is keyed on event_id; re-writing the same event is a
	// no-op so duplicate raw messages from the at-least-once boundary are
	// absorbed here.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, ev *types.RawEvent) error
	GetByEventID(ctx context.Context, tx *gorm.DB, eventID string) (*types.RawEvent, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, eventID, status string) error
	// ListForReplay returns events for one source and tenant in received
	// order, strictly after the given cursor (an event_id, empty for all).
	ListForReplay(ctx context.Context, tx *gorm.DB, source, tenantID, afterEventID string, limit int) ([]*types.RawEvent, error)
}

type rawEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRawEventRepo(db *gorm.DB, baseLog *logger.Logger) RawEventRepo {
	repoLog := baseLog.With("repo", "RawEventRepo")
	return &rawEventRepo{db: db, log: repoLog}
}

func (r *rawEventRepo) CreateIfAbsent(ctx context.Context, tx *gorm.DB, ev *types.RawEvent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(ev).Error
}

func (r *rawEventRepo) GetByEventID(ctx context.Context, tx *gorm.DB, eventID string) (*types.RawEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ev types.RawEvent
	if err := transaction.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *rawEventRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, eventID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.RawEvent{}).
		Where("event_id = ?", eventID).
		Update("processing_status", status).Error
}

func (r *rawEventRepo) ListForReplay(ctx context.Context, tx *gorm.DB, source, tenantID, afterEventID string, limit int) ([]*types.RawEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 500
	}
	q := transaction.WithContext(ctx).
		Where("source = ? AND tenant_id = ?", source, tenantID).
		Order("received_at ASC, id ASC").
		Limit(limit)
	if afterEventID != "" {
		var anchor types.RawEvent
		if err := transaction.WithContext(ctx).
			Where("event_id = ?", afterEventID).
			First(&anchor).Error; err != nil {
			return nil, err
		}
		q = q.Where("(received_at > ?) OR (received_at = ? AND id > ?)", anchor.ReceivedAt, anchor.ReceivedAt, anchor.ID)
	}
	var results []*types.RawEvent
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

package pipeline

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type DeadLetterRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *types.DeadLetterMessage) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DeadLetterMessage, error)
	List(ctx context.Context, tx *gorm.DB, stage, status string, limit int) ([]*types.DeadLetterMessage, error)
	MarkReplayed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type deadLetterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeadLetterRepo(db *gorm.DB, baseLog *logger.Logger) DeadLetterRepo {
	repoLog := baseLog.With("repo", "DeadLetterRepo")
	return &deadLetterRepo{db: db, log: repoLog}
}

func (r *deadLetterRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.DeadLetterMessage) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Status == "" {
		msg.Status = types.DeadLetterStatusPending
	}
	return transaction.WithContext(ctx).Create(msg).Error
}

func (r *deadLetterRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DeadLetterMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var msg types.DeadLetterMessage
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *deadLetterRepo) List(ctx context.Context, tx *gorm.DB, stage, status string, limit int) ([]*types.DeadLetterMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	q := transaction.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if stage != "" {
		q = q.Where("stage = ?", stage)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var results []*types.DeadLetterMessage
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *deadLetterRepo) MarkReplayed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.DeadLetterMessage{}).
		Where("id = ?", id).
		Update("status", types.DeadLetterStatusReplayed).Error
}

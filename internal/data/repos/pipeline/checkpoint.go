package pipeline

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type CheckpointRepo interface {
	Get(ctx context.Context, tx *gorm.DB, source, tenantID, stage string) (*types.ProcessingCheckpoint, error)
	// Advance upserts the cursor. Callers must only invoke it after the
	// downstream write for that cursor is durably committed.
	Advance(ctx context.Context, tx *gorm.DB, source, tenantID, stage, cursor string) error
	List(ctx context.Context, tx *gorm.DB, tenantID string) ([]*types.ProcessingCheckpoint, error)
}

type checkpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	repoLog := baseLog.With("repo", "CheckpointRepo")
	return &checkpointRepo{db: db, log: repoLog}
}

func (r *checkpointRepo) Get(ctx context.Context, tx *gorm.DB, source, tenantID, stage string) (*types.ProcessingCheckpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cp types.ProcessingCheckpoint
	err := transaction.WithContext(ctx).
		Where("source = ? AND tenant_id = ? AND stage = ?", source, tenantID, stage).
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (r *checkpointRepo) Advance(ctx context.Context, tx *gorm.DB, source, tenantID, stage, cursor string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	cp := &types.ProcessingCheckpoint{
		Source:   source,
		TenantID: tenantID,
		Stage:    stage,
		Cursor:   cursor,
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "tenant_id"}, {Name: "stage"}},
			DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
		}).
		Create(cp).Error
}

func (r *checkpointRepo) List(ctx context.Context, tx *gorm.DB, tenantID string) ([]*types.ProcessingCheckpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ProcessingCheckpoint
	q := transaction.WithContext(ctx).Order("source, stage")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

package docs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type EmbeddingRepo interface {
	// Supersede deactivates the current active record for doc_id (if any) and
	// inserts the next generation as the single active row, in one
	// transaction.
	Supersede(ctx context.Context, tx *gorm.DB, rec *types.EmbeddingRecord) (*types.EmbeddingRecord, error)
	GetActiveByDocID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) (*types.EmbeddingRecord, error)
	ListActiveByTenant(ctx context.Context, tx *gorm.DB, tenantID string) ([]*types.EmbeddingRecord, error)
	CountActiveByDocID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) (int64, error)
	DeactivateByDocID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) error
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	repoLog := baseLog.With("repo", "EmbeddingRepo")
	return &embeddingRepo{db: db, log: repoLog}
}

func (r *embeddingRepo) Supersede(ctx context.Context, tx *gorm.DB, rec *types.EmbeddingRecord) (*types.EmbeddingRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	out := *rec
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		var prev types.EmbeddingRecord
		err := inner.
			Where("doc_id = ? AND active = ?", rec.DocID, true).
			First(&prev).Error
		switch {
		case err == nil:
			if err := inner.
				Model(&types.EmbeddingRecord{}).
				Where("id = ?", prev.ID).
				Update("active", false).Error; err != nil {
				return err
			}
			out.Generation = prev.Generation + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
			out.Generation = 1
		default:
			return err
		}
		if out.ID == uuid.Nil {
			out.ID = uuid.New()
		}
		out.Active = true
		return inner.Create(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *embeddingRepo) GetActiveByDocID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) (*types.EmbeddingRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rec types.EmbeddingRecord
	if err := transaction.WithContext(ctx).
		Where("doc_id = ? AND active = ?", docID, true).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *embeddingRepo) ListActiveByTenant(ctx context.Context, tx *gorm.DB, tenantID string) ([]*types.EmbeddingRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.EmbeddingRecord
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *embeddingRepo) CountActiveByDocID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.EmbeddingRecord{}).
		Where("doc_id = ? AND active = ?", docID, true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *embeddingRepo) DeactivateByDocID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.EmbeddingRecord{}).
		Where("doc_id = ? AND active = ?", docID, true).
		Update("active", false).Error
}

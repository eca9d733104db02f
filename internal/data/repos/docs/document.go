package docs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type DocumentRepo interface {
	// UpsertNormalized writes the normalizer's deterministic fields. Replays
	// hit the same primary key and overwrite with identical values, leaving
	// enrichment columns untouched.
	UpsertNormalized(ctx context.Context, tx *gorm.DB, doc *types.CanonicalDocument) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CanonicalDocument, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.CanonicalDocument, error)
	// UpdateFieldsGuarded applies updates only when updated_at still matches
	// expectedUpdatedAt. Zero rows affected means a concurrent writer won.
	UpdateFieldsGuarded(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedUpdatedAt time.Time, updates map[string]interface{}) (bool, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SearchLexical(ctx context.Context, tx *gorm.DB, tenantID, query string, limit int) ([]*types.CanonicalDocument, error)
	ExistsByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	repoLog := baseLog.With("repo", "DocumentRepo")
	return &documentRepo{db: db, log: repoLog}
}

func (r *documentRepo) UpsertNormalized(ctx context.Context, tx *gorm.DB, doc *types.CanonicalDocument) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_id", "source", "title", "body_text",
				"entity_key", "source_permalink", "raw_event_id", "updated_at",
			}),
		}).
		Create(doc).Error
}

func (r *documentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CanonicalDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var doc types.CanonicalDocument
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.CanonicalDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.CanonicalDocument
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) UpdateFieldsGuarded(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedUpdatedAt time.Time, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := transaction.WithContext(ctx).
		Model(&types.CanonicalDocument{}).
		Where("id = ? AND updated_at = ?", id, expectedUpdatedAt).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *documentRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(ctx).
		Model(&types.CanonicalDocument{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *documentRepo) SearchLexical(ctx context.Context, tx *gorm.DB, tenantID, query string, limit int) ([]*types.CanonicalDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	needle := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var results []*types.CanonicalDocument
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("LOWER(title) LIKE ? OR LOWER(body_text) LIKE ?", needle, needle).
		Order("updated_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) ExistsByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(&types.CanonicalDocument{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

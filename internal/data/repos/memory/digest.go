package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type DigestRepo interface {
	// Create rejects digests with an empty evidence list; structured memory
	// without grounding evidence must never be persisted.
	Create(ctx context.Context, tx *gorm.DB, d *types.Digest) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Digest, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Digest, error)
	GetByTopicKey(ctx context.Context, tx *gorm.DB, tenantID, topicKey string) (*types.Digest, error)
	// AppendEvidenceGuarded adds a doc id to the evidence list and optionally
	// moves the state, guarded on updated_at for concurrent classification
	// passes. Appending an id already present keeps the list unchanged.
	AppendEvidenceGuarded(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedUpdatedAt time.Time, docID uuid.UUID, newState string) (bool, error)
	ListByTenantUpdatedSince(ctx context.Context, tx *gorm.DB, tenantID string, since time.Time, limit int) ([]*types.Digest, error)
}

type digestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDigestRepo(db *gorm.DB, baseLog *logger.Logger) DigestRepo {
	repoLog := baseLog.With("repo", "DigestRepo")
	return &digestRepo{db: db, log: repoLog}
}

func (r *digestRepo) Create(ctx context.Context, tx *gorm.DB, d *types.Digest) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	evidence, err := DecodeEvidence(d.EvidenceDocIDs)
	if err != nil {
		return fmt.Errorf("digest evidence: %w", err)
	}
	if len(evidence) == 0 {
		return fmt.Errorf("digest %s has no evidence", d.TopicKey)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(d).Error
}

func (r *digestRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Digest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var d types.Digest
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *digestRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Digest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Digest
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

func (r *digestRepo) GetByTopicKey(ctx context.Context, tx *gorm.DB, tenantID, topicKey string) (*types.Digest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var d types.Digest
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND topic_key = ?", tenantID, topicKey).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *digestRepo) AppendEvidenceGuarded(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedUpdatedAt time.Time, docID uuid.UUID, newState string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	current, err := r.GetByID(ctx, transaction, id)
	if err != nil {
		return false, err
	}
	evidence, err := DecodeEvidence(current.EvidenceDocIDs)
	if err != nil {
		return false, err
	}
	present := false
	for _, e := range evidence {
		if e == docID {
			present = true
			break
		}
	}
	if !present {
		evidence = append(evidence, docID)
	}
	encoded, err := EncodeEvidence(evidence)
	if err != nil {
		return false, err
	}
	updates := map[string]interface{}{
		"evidence_doc_ids": encoded,
		"updated_at":       time.Now().UTC(),
	}
	if newState != "" {
		updates["state"] = newState
	}
	res := transaction.WithContext(ctx).
		Model(&types.Digest{}).
		Where("id = ? AND updated_at = ?", id, expectedUpdatedAt).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *digestRepo) ListByTenantUpdatedSince(ctx context.Context, tx *gorm.DB, tenantID string, since time.Time, limit int) ([]*types.Digest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var results []*types.Digest
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND updated_at >= ?", tenantID, since).
		Order("updated_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func EncodeEvidence(ids []uuid.UUID) (datatypes.JSON, error) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func DecodeEvidence(raw datatypes.JSON) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

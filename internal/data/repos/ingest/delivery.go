package ingest

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type DeliveryRepo interface {
	// CreateIfAbsent records a delivery and reports whether this call was the
	// first sighting of (source, delivery_id).
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, rec *types.DeliveryRecord) (bool, error)
	Exists(ctx context.Context, tx *gorm.DB, source, deliveryID string) (bool, error)
	PruneOlderThan(ctx context.Context, tx *gorm.DB, cutoffDays int) (int64, error)
}

type deliveryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeliveryRepo(db *gorm.DB, baseLog *logger.Logger) DeliveryRepo {
	repoLog := baseLog.With("repo", "DeliveryRepo")
	return &deliveryRepo{db: db, log: repoLog}
}

func (r *deliveryRepo) CreateIfAbsent(ctx context.Context, tx *gorm.DB, rec *types.DeliveryRecord) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Create(rec).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

func (r *deliveryRepo) Exists(ctx context.Context, tx *gorm.DB, source, deliveryID string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.DeliveryRecord{}).
		Where("source = ? AND delivery_id = ?", source, deliveryID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *deliveryRepo) PruneOlderThan(ctx context.Context, tx *gorm.DB, cutoffDays int) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cutoffDays <= 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("received_at < now() - make_interval(days => ?)", cutoffDays).
		Delete(&types.DeliveryRecord{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation covers both gorm's translated error and the raw pgconn
// error, since translation depends on driver configuration.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

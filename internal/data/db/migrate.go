package db

import (
	"gorm.io/gorm"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.DeliveryRecord{},
		&types.RawEvent{},
		&types.CanonicalDocument{},
		&types.EmbeddingRecord{},
		&types.Digest{},
		&types.ProcessingCheckpoint{},
		&types.DeadLetterMessage{},
	)
}

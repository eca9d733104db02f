package app

import (
	"time"

	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/utils"
)

// Config collects the pipeline tuning knobs read from the environment at
// startup. Everything has a default so a bare process comes up usable.
type Config struct {
	// Bus.
	RedisAddr  string
	Partitions int

	// Vector index provider: "pinecone" or "memory".
	VectorProvider string

	// Classification thresholds on cosine similarity. At or above
	// DuplicateThreshold the decision is made deterministically; below
	// NewThreshold the document is new without a model call; the band in
	// between goes to the classifier.
	DuplicateThreshold float64
	NewThreshold       float64

	// Candidate retrieval for classification.
	TopK       int
	WindowDays int

	// Worker retry policy.
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func FromEnv(log *logger.Logger) Config {
	return Config{
		RedisAddr:      utils.GetEnv("REDIS_ADDR", "localhost:6379", log),
		Partitions:     utils.GetEnvAsInt("BUS_PARTITIONS", 8, log),
		VectorProvider: utils.GetEnv("VECTOR_PROVIDER", "pinecone", log),

		DuplicateThreshold: utils.GetEnvAsFloat("CLASSIFY_DUPLICATE_THRESHOLD", 0.83, log),
		NewThreshold:       utils.GetEnvAsFloat("CLASSIFY_NEW_THRESHOLD", 0.60, log),

		TopK:       utils.GetEnvAsInt("CLASSIFY_TOP_K", 5, log),
		WindowDays: utils.GetEnvAsInt("CLASSIFY_WINDOW_DAYS", 90, log),

		MaxAttempts: utils.GetEnvAsInt("PIPELINE_MAX_ATTEMPTS", 5, log),
		MinBackoff:  time.Duration(utils.GetEnvAsInt("PIPELINE_MIN_BACKOFF_MS", 1000, log)) * time.Millisecond,
		MaxBackoff:  time.Duration(utils.GetEnvAsInt("PIPELINE_MAX_BACKOFF_MS", 30000, log)) * time.Millisecond,
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/httpx"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

// RetryPolicy bounds in-process retries for one message before it is
// dead-lettered.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinBackoff:  1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Worker wraps stage handlers with the shared failure policy: retryable
// errors back off and retry in place, terminal errors and exhausted retries
// land in the dead letter table, and either way the message is acknowledged
// so a poison message cannot wedge its partition.
type Worker struct {
	log         *logger.Logger
	deadLetters pipelinerepo.DeadLetterRepo
	policy      RetryPolicy
}

func NewWorker(log *logger.Logger, deadLetters pipelinerepo.DeadLetterRepo, policy RetryPolicy) (*Worker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter repo required")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.MinBackoff <= 0 {
		policy.MinBackoff = time.Second
	}
	if policy.MaxBackoff < policy.MinBackoff {
		policy.MaxBackoff = policy.MinBackoff
	}
	return &Worker{
		log:         log.With("service", "PipelineWorker"),
		deadLetters: deadLetters,
		policy:      policy,
	}, nil
}

// Wrap returns a bus handler running h under the retry policy for the given
// stage.
func (w *Worker) Wrap(stage string, h bus.Handler) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		var lastErr error
		backoff := w.policy.MinBackoff

		for attempt := 1; attempt <= w.policy.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			lastErr = h(ctx, msg)
			if lastErr == nil {
				return nil
			}
			if !apierr.Retryable(lastErr) {
				w.log.Warn("terminal failure, dead-lettering",
					"stage", stage,
					"channel", msg.Channel,
					"code", apierr.FailureCode(lastErr),
					"error", lastErr,
				)
				return w.deadLetter(ctx, stage, msg, attempt, lastErr)
			}
			if attempt == w.policy.MaxAttempts {
				break
			}

			sleep := httpx.JitterSleep(backoff)
			w.log.Warn("stage failed, retrying",
				"stage", stage,
				"channel", msg.Channel,
				"attempt", attempt,
				"max_attempts", w.policy.MaxAttempts,
				"sleep", sleep.String(),
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			backoff *= 2
			if backoff > w.policy.MaxBackoff {
				backoff = w.policy.MaxBackoff
			}
		}

		w.log.Error("retries exhausted, dead-lettering",
			"stage", stage,
			"channel", msg.Channel,
			"attempts", w.policy.MaxAttempts,
			"error", lastErr,
		)
		return w.deadLetter(ctx, stage, msg, w.policy.MaxAttempts, lastErr)
	}
}

// deadLetter persists the failed message and acknowledges it. If even the
// dead letter write fails the error propagates so the bus redelivers.
func (w *Worker) deadLetter(ctx context.Context, stage string, msg bus.Message, attempts int, cause error) error {
	dl := &types.DeadLetterMessage{
		Stage:        stage,
		Channel:      msg.Channel,
		PartitionKey: msg.PartitionKey,
		TenantID:     tenantFromPayload(msg.Payload),
		Payload:      datatypes.JSON(msg.Payload),
		RetryCount:   attempts,
		LastError:    cause.Error(),
		FailureCode:  apierr.FailureCode(cause),
	}
	if err := w.deadLetters.Create(ctx, nil, dl); err != nil {
		return fmt.Errorf("dead letter write: %w", err)
	}
	return nil
}

// tenantFromPayload pulls the tenant out of any pipeline message; all of
// them carry a tenant_id field.
func tenantFromPayload(payload []byte) string {
	var envelope struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.TenantID
}

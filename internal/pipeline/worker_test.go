package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	"github.com/hivemindhq/hivemind-backend/internal/data/repos/testutil"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
)

func testWorker(t *testing.T, maxAttempts int) (*Worker, pipelinerepo.DeadLetterRepo) {
	t.Helper()
	repo := pipelinerepo.NewDeadLetterRepo(testutil.DB(t), testutil.Logger(t))
	w, err := NewWorker(testutil.Logger(t), repo, RetryPolicy{
		MaxAttempts: maxAttempts,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w, repo
}

func TestWrapRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	w, repo := testWorker(t, 3)

	calls := 0
	h := w.Wrap(types.StageEmbed, func(_ context.Context, _ bus.Message) error {
		calls++
		return fmt.Errorf("embed upstream: %w", apierr.ErrTransientDependency)
	})

	err := h(ctx, bus.Message{
		Channel:      bus.ChannelEmbed,
		PartitionKey: "t1/C1:1",
		Payload:      []byte(`{"tenant_id":"t1","doc_id":"d1"}`),
	})
	if err != nil {
		t.Fatalf("dead-lettered message must be acknowledged, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}

	letters, err := repo.List(ctx, nil, types.StageEmbed, types.DeadLetterStatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	dl := letters[0]
	if dl.FailureCode != apierr.CodeTransientDependency {
		t.Fatalf("unexpected failure code %q", dl.FailureCode)
	}
	if dl.RetryCount != 3 {
		t.Fatalf("expected retry count 3, got %d", dl.RetryCount)
	}
	if dl.TenantID != "t1" {
		t.Fatalf("tenant not extracted from payload, got %q", dl.TenantID)
	}
}

func TestWrapTerminalErrorDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	w, repo := testWorker(t, 5)

	calls := 0
	h := w.Wrap(types.StageNormalize, func(_ context.Context, _ bus.Message) error {
		calls++
		return fmt.Errorf("slack payload: %w", apierr.ErrUnparseablePayload)
	})

	if err := h(ctx, bus.Message{
		Channel: bus.ChannelRaw,
		Payload: []byte(`{"tenant_id":"t1"}`),
	}); err != nil {
		t.Fatalf("terminal failure must still ack, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal error must not retry, got %d attempts", calls)
	}

	letters, err := repo.List(ctx, nil, types.StageNormalize, types.DeadLetterStatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(letters) != 1 || letters[0].FailureCode != apierr.CodeUnparseablePayload {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}
}

func TestWrapSucceedsAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	w, repo := testWorker(t, 3)

	calls := 0
	h := w.Wrap(types.StageEnrich, func(_ context.Context, _ bus.Message) error {
		calls++
		if calls < 2 {
			return fmt.Errorf("db: %w", apierr.ErrOptimisticConflict)
		}
		return nil
	})

	if err := h(ctx, bus.Message{Channel: bus.ChannelEnrich, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("handler recovered, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}

	letters, err := repo.List(ctx, nil, types.StageEnrich, types.DeadLetterStatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(letters) != 0 {
		t.Fatalf("successful message must not dead-letter, got %d", len(letters))
	}
}

func TestWrapStopsOnCancelledContext(t *testing.T) {
	w, _ := testWorker(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := w.Wrap(types.StageEmbed, func(_ context.Context, _ bus.Message) error {
		t.Fatal("handler must not run on a cancelled context")
		return nil
	})
	if err := h(ctx, bus.Message{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/hivemindhq/hivemind-backend/internal/data/repos/testutil"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

func TestDigestCreateRejectsEmptyEvidence(t *testing.T) {
	ctx := context.Background()
	repo := NewDigestRepo(testutil.DB(t), testutil.Logger(t))

	err := repo.Create(ctx, nil, &types.Digest{
		TenantID: "t1",
		TopicKey: "slack/C1:1",
		State:    types.DigestStateOpen,
		Summary:  "deploy broken",
	})
	if err == nil {
		t.Fatal("digest with no evidence must be rejected")
	}

	empty, err := EncodeEvidence([]uuid.UUID{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	err = repo.Create(ctx, nil, &types.Digest{
		TenantID:       "t1",
		TopicKey:       "slack/C1:1",
		State:          types.DigestStateOpen,
		Summary:        "deploy broken",
		EvidenceDocIDs: empty,
	})
	if err == nil {
		t.Fatal("digest with empty evidence list must be rejected")
	}
}

func TestDigestAppendEvidenceGuarded(t *testing.T) {
	ctx := context.Background()
	repo := NewDigestRepo(testutil.DB(t), testutil.Logger(t))

	docA := uuid.New()
	evidence, err := EncodeEvidence([]uuid.UUID{docA})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d := &types.Digest{
		TenantID:       "t1",
		TopicKey:       "acme/api#17",
		State:          types.DigestStateOpen,
		Summary:        "API timeouts",
		EvidenceDocIDs: evidence,
	}
	if err := repo.Create(ctx, nil, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	current, err := repo.GetByID(ctx, nil, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	docB := uuid.New()
	applied, err := repo.AppendEvidenceGuarded(ctx, nil, d.ID, current.UpdatedAt, docB, types.DigestStateRegressed)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !applied {
		t.Fatal("append with current timestamp should apply")
	}

	// Stale writer must lose.
	applied, err = repo.AppendEvidenceGuarded(ctx, nil, d.ID, current.UpdatedAt, uuid.New(), "")
	if err != nil {
		t.Fatalf("stale append: %v", err)
	}
	if applied {
		t.Fatal("stale append must not apply")
	}

	got, err := repo.GetByID(ctx, nil, d.ID)
	if err != nil {
		t.Fatalf("get after append: %v", err)
	}
	if got.State != types.DigestStateRegressed {
		t.Fatalf("expected regressed state, got %q", got.State)
	}
	ids, err := DecodeEvidence(got.EvidenceDocIDs)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 2 || ids[0] != docA || ids[1] != docB {
		t.Fatalf("unexpected evidence: %v", ids)
	}

	// Appending an id already present keeps the list unchanged.
	fresh, _ := repo.GetByID(ctx, nil, d.ID)
	applied, err = repo.AppendEvidenceGuarded(ctx, nil, d.ID, fresh.UpdatedAt, docB, "")
	if err != nil {
		t.Fatalf("dedup append: %v", err)
	}
	if !applied {
		t.Fatal("dedup append should still apply")
	}
	got, _ = repo.GetByID(ctx, nil, d.ID)
	ids, _ = DecodeEvidence(got.EvidenceDocIDs)
	if len(ids) != 2 {
		t.Fatalf("evidence list must stay deduplicated, got %v", ids)
	}
}

func TestDigestTopicKeyUniquePerTenant(t *testing.T) {
	ctx := context.Background()
	repo := NewDigestRepo(testutil.DB(t), testutil.Logger(t))

	evidence, _ := EncodeEvidence([]uuid.UUID{uuid.New()})
	if err := repo.Create(ctx, nil, &types.Digest{
		TenantID: "t1", TopicKey: "k", State: types.DigestStateOpen,
		Summary: "s", EvidenceDocIDs: evidence,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, nil, &types.Digest{
		TenantID: "t1", TopicKey: "k", State: types.DigestStateOpen,
		Summary: "s", EvidenceDocIDs: evidence,
	}); err == nil {
		t.Fatal("duplicate topic key in one tenant must fail")
	}
	// Same key under another tenant is fine.
	if err := repo.Create(ctx, nil, &types.Digest{
		TenantID: "t2", TopicKey: "k", State: types.DigestStateOpen,
		Summary: "s", EvidenceDocIDs: evidence,
	}); err != nil {
		t.Fatalf("create in second tenant: %v", err)
	}
}

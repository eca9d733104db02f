package ingest

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/hivemindhq/hivemind-backend/internal/data/repos/testutil"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

func TestDeliveryRepoCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewDeliveryRepo(testutil.DB(t), testutil.Logger(t))

	first, err := repo.CreateIfAbsent(ctx, nil, &types.DeliveryRecord{
		Source: types.SourceSlack, DeliveryID: "d-1", TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !first {
		t.Fatal("first sighting should report true")
	}

	second, err := repo.CreateIfAbsent(ctx, nil, &types.DeliveryRecord{
		Source: types.SourceSlack, DeliveryID: "d-1", TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second {
		t.Fatal("repeat sighting should report false")
	}

	// Same delivery id under another source is a distinct delivery.
	other, err := repo.CreateIfAbsent(ctx, nil, &types.DeliveryRecord{
		Source: types.SourceGitHub, DeliveryID: "d-1", TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("other source create: %v", err)
	}
	if !other {
		t.Fatal("delivery ids are scoped per source")
	}

	exists, err := repo.Exists(ctx, nil, types.SourceSlack, "d-1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected delivery to exist")
	}
}

func TestRawEventRepoCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewRawEventRepo(testutil.DB(t), testutil.Logger(t))

	ev := &types.RawEvent{
		EventID:          "ev-1",
		Source:           types.SourceSlack,
		TenantID:         "t1",
		RawPayload:       datatypes.JSON(`{"a":1}`),
		ProcessingStatus: types.RawEventStatusReceived,
	}
	if err := repo.CreateIfAbsent(ctx, nil, ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateIfAbsent(ctx, nil, &types.RawEvent{
		EventID:          "ev-1",
		Source:           types.SourceSlack,
		TenantID:         "t1",
		RawPayload:       datatypes.JSON(`{"a":1}`),
		ProcessingStatus: types.RawEventStatusReceived,
	}); err != nil {
		t.Fatalf("duplicate create should be a no-op: %v", err)
	}

	got, err := repo.GetByEventID(ctx, nil, "ev-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProcessingStatus != types.RawEventStatusReceived {
		t.Fatalf("unexpected status %q", got.ProcessingStatus)
	}

	if err := repo.UpdateStatus(ctx, nil, "ev-1", types.RawEventStatusNormalized); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err = repo.GetByEventID(ctx, nil, "ev-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.ProcessingStatus != types.RawEventStatusNormalized {
		t.Fatalf("status not updated, got %q", got.ProcessingStatus)
	}
}

func TestRawEventRepoListForReplay(t *testing.T) {
	ctx := context.Background()
	repo := NewRawEventRepo(testutil.DB(t), testutil.Logger(t))

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"ev-a", "ev-b", "ev-c"} {
		ev := &types.RawEvent{
			EventID:          id,
			Source:           types.SourceSlack,
			TenantID:         "t1",
			RawPayload:       datatypes.JSON(`{}`),
			ProcessingStatus: types.RawEventStatusReceived,
			ReceivedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateIfAbsent(ctx, nil, ev); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	// Different tenant, must not appear.
	if err := repo.CreateIfAbsent(ctx, nil, &types.RawEvent{
		EventID: "ev-other", Source: types.SourceSlack, TenantID: "t2",
		RawPayload: datatypes.JSON(`{}`), ProcessingStatus: types.RawEventStatusReceived,
		ReceivedAt: base,
	}); err != nil {
		t.Fatalf("create other tenant: %v", err)
	}

	all, err := repo.ListForReplay(ctx, nil, types.SourceSlack, "t1", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	for i, want := range []string{"ev-a", "ev-b", "ev-c"} {
		if all[i].EventID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, all[i].EventID)
		}
	}

	after, err := repo.ListForReplay(ctx, nil, types.SourceSlack, "t1", "ev-a", 10)
	if err != nil {
		t.Fatalf("list after cursor: %v", err)
	}
	if len(after) != 2 || after[0].EventID != "ev-b" {
		t.Fatalf("cursor list wrong: %+v", after)
	}
}

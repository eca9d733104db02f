package bus

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(4)

	var got []string
	if err := b.Subscribe(ChannelRaw, "g", func(_ context.Context, msg Message) error {
		got = append(got, string(msg.Payload))
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := b.Publish(ctx, ChannelRaw, "same-key", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(got))
	}
	for i, payload := range got {
		if payload != fmt.Sprintf("m%d", i) {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestMemoryBusReentrantPublish(t *testing.T) {
	// A handler publishing downstream messages mirrors the pipeline: each
	// message's full downstream effect completes before the next message on
	// the same partition is handled.
	ctx := context.Background()
	b := NewMemoryBus(1)

	var order []string
	if err := b.Subscribe(ChannelRaw, "g", func(ctx context.Context, msg Message) error {
		order = append(order, "raw:"+string(msg.Payload))
		return b.Publish(ctx, ChannelEnrich, msg.PartitionKey, msg.Payload)
	}); err != nil {
		t.Fatalf("subscribe raw: %v", err)
	}
	if err := b.Subscribe(ChannelEnrich, "g", func(_ context.Context, msg Message) error {
		order = append(order, "enrich:"+string(msg.Payload))
		return nil
	}); err != nil {
		t.Fatalf("subscribe enrich: %v", err)
	}

	if err := b.Publish(ctx, ChannelRaw, "k", []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(ctx, ChannelRaw, "k", []byte("b")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	want := []string{"raw:a", "enrich:a", "raw:b", "enrich:b"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestPartitionStable(t *testing.T) {
	if Partition("k1", 8) != Partition("k1", 8) {
		t.Fatal("partition must be deterministic")
	}
	if p := Partition("anything", 1); p != 0 {
		t.Fatalf("single partition must map to 0, got %d", p)
	}
	if p := Partition("k1", 8); p < 0 || p > 7 {
		t.Fatalf("partition out of range: %d", p)
	}
}

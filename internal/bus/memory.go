package bus

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and local mode. Publish
// delivers synchronously through a per-partition FIFO, so per-entity ordering
// matches the redis implementation and a test observes the full downstream
// effect of one publish before it returns.
type MemoryBus struct {
	partitions int

	mu       sync.Mutex
	handlers map[string]Handler
	queues   map[string][]Message
	draining map[string]bool
	seq      int
}

func NewMemoryBus(partitions int) *MemoryBus {
	if partitions <= 0 {
		partitions = 4
	}
	return &MemoryBus{
		partitions: partitions,
		handlers:   make(map[string]Handler),
		queues:     make(map[string][]Message),
		draining:   make(map[string]bool),
	}
}

func (b *MemoryBus) Subscribe(channel, _ string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[channel]; ok {
		return fmt.Errorf("channel %q already subscribed", channel)
	}
	b.handlers[channel] = h
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, channel, partitionKey string, payload []byte) error {
	b.mu.Lock()
	b.seq++
	msg := Message{
		ID:           fmt.Sprintf("mem-%d", b.seq),
		Channel:      channel,
		PartitionKey: partitionKey,
		Payload:      append([]byte(nil), payload...),
	}
	pkey := fmt.Sprintf("%s.p%d", channel, Partition(partitionKey, b.partitions))
	b.queues[pkey] = append(b.queues[pkey], msg)
	if b.draining[pkey] {
		// A drain higher in the call stack will pick this up in order.
		b.mu.Unlock()
		return nil
	}
	b.draining[pkey] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.draining[pkey] = false
		b.mu.Unlock()
	}()

	for {
		b.mu.Lock()
		q := b.queues[pkey]
		if len(q) == 0 {
			b.mu.Unlock()
			return nil
		}
		next := q[0]
		b.queues[pkey] = q[1:]
		h := b.handlers[next.Channel]
		b.mu.Unlock()

		if h == nil {
			continue
		}
		// Handler errors are terminal here; retry and dead-letter policy
		// belongs to the worker wrapper, same as the redis bus.
		_ = h(ctx, next)
	}
}

// Start blocks until cancellation for interface parity; delivery is
// synchronous in Publish.
func (b *MemoryBus) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *MemoryBus) Close() error { return nil }

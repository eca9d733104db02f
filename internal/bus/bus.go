package bus

import (
	"context"
	"hash/fnv"
)

// Channel names. Each channel is an ordered, partitioned append log; all
// events for one logical source entity hash to the same partition and are
// handled by a single consumer at a time.
const (
	ChannelRaw    = "events.raw"
	ChannelEnrich = "events.enrich"
	ChannelEmbed  = "events.embed"
	ChannelIndex  = "events.index"
)

// Message is one entry read from a channel partition.
type Message struct {
	ID           string
	Channel      string
	PartitionKey string
	Payload      []byte
}

// Handler processes one message. A nil return acknowledges the message; the
// worker layer is responsible for retry and dead-letter policy, so by the
// time an error reaches the bus it is terminal for that delivery attempt.
type Handler func(ctx context.Context, msg Message) error

type Bus interface {
	Publish(ctx context.Context, channel, partitionKey string, payload []byte) error
	// Subscribe registers the handler for a channel. One handler per channel
	// per process; call before Start.
	Subscribe(channel, group string, h Handler) error
	// Start begins consumption and blocks until ctx is cancelled. In-flight
	// messages finish before Start returns.
	Start(ctx context.Context) error
	Close() error
}

// Partition maps a partition key onto [0, n).
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

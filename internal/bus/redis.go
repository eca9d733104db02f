package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type RedisConfig struct {
	Addr       string
	Partitions int
	// BlockTimeout bounds each XREADGROUP call so shutdown is never stuck on
	// a quiet stream.
	BlockTimeout time.Duration
}

type redisBus struct {
	log        *logger.Logger
	rdb        *goredis.Client
	partitions int
	block      time.Duration

	mu   sync.Mutex
	subs []redisSub
}

type redisSub struct {
	channel string
	group   string
	handler Handler
}

func NewRedisBus(log *logger.Logger, cfg RedisConfig) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 8
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:        log.With("service", "RedisBus"),
		rdb:        rdb,
		partitions: cfg.Partitions,
		block:      cfg.BlockTimeout,
	}, nil
}

func streamName(channel string, partition int) string {
	return fmt.Sprintf("%s.p%d", channel, partition)
}

func (b *redisBus) Publish(ctx context.Context, channel, partitionKey string, payload []byte) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	p := Partition(partitionKey, b.partitions)
	return b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamName(channel, p),
		Values: map[string]interface{}{
			"key":     partitionKey,
			"payload": payload,
		},
	}).Err()
}

func (b *redisBus) Subscribe(channel, group string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.channel == channel {
			return fmt.Errorf("channel %q already subscribed", channel)
		}
	}
	b.subs = append(b.subs, redisSub{channel: channel, group: group, handler: h})
	return nil
}

// Start runs one reader goroutine per (channel, partition). Each reader
// processes a single entry at a time, which is what gives per-entity ordering
// inside a partition.
func (b *redisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	subs := make([]redisSub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		for p := 0; p < b.partitions; p++ {
			sub := sub
			stream := streamName(sub.channel, p)
			consumer := fmt.Sprintf("%s-c%d", sub.group, p)
			if err := b.ensureGroup(ctx, stream, sub.group); err != nil {
				return err
			}
			g.Go(func() error {
				return b.consumePartition(gctx, stream, sub, consumer)
			})
		}
	}
	return g.Wait()
}

func (b *redisBus) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (b *redisBus) consumePartition(ctx context.Context, stream string, sub redisSub, consumer string) error {
	// First pass drains this consumer's pending entries left over from a
	// prior crash, then the loop switches to new entries.
	cursor := "0"
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		res, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    sub.group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    1,
			Block:    b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				cursor = ">"
				continue
			}
			b.log.Warn("read group failed", "stream", stream, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		drained := true
		failed := false
		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				drained = false
				msg := Message{
					ID:           entry.ID,
					Channel:      sub.channel,
					PartitionKey: asString(entry.Values["key"]),
					Payload:      []byte(asString(entry.Values["payload"])),
				}
				if err := sub.handler(ctx, msg); err != nil {
					// Not acked. The next read resumes from pending entries so
					// nothing newer in the partition overtakes this message.
					b.log.Warn("handler failed, retrying message before advancing",
						"stream", stream,
						"message_id", entry.ID,
						"error", err,
					)
					failed = true
					break
				}
				if err := b.rdb.XAck(ctx, stream, sub.group, entry.ID).Err(); err != nil {
					b.log.Warn("ack failed", "stream", stream, "message_id", entry.ID, "error", err)
				}
			}
			if failed {
				break
			}
		}
		if failed {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		cursor = nextCursor(cursor, drained, failed)
	}
}

// nextCursor decides where the partition reader resumes. An unacked message
// pins the reader to the pending list ("0") until it is handled, which is
// what preserves per-entity ordering across a failure window; only a fully
// drained pending list moves the reader to new entries (">").
func nextCursor(cursor string, drained, failed bool) string {
	if failed {
		return "0"
	}
	if drained && cursor == "0" {
		return ">"
	}
	return cursor
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

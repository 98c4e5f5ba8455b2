// Package bus provides the Redis-backed coordination fabric: the event
// stream, distributed locks, token accounting, realtime pub/sub, and
// request rate limiting.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream and channel names. Consumer groups are fixed: the dispatcher owns
// hornet_dispatcher; hornet_workers is reserved for future fan-out and must
// not be shared with the dispatcher.
const (
	EventStream     = "hornet:events"
	RealtimeChannel = "hornet:realtime"

	GroupDispatcher = "hornet_dispatcher"
	GroupWorkers    = "hornet_workers"
)

// Config holds Redis connection settings, environment-driven.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// ConfigFromEnv reads REDIS_ADDR, REDIS_PASSWORD and REDIS_DB with local
// development defaults.
func ConfigFromEnv() Config {
	cfg := Config{Addr: "localhost:6379"}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Addr = v
	}
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.DB = db
		}
	}
	return cfg
}

// Client wraps the Redis connection used by every bus facility.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Client{
		rdb:    rdb,
		logger: slog.Default().With("component", "bus"),
	}, nil
}

// NewClientFromRedis wraps an existing connection. Used by tests with an
// in-process server.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, logger: slog.Default().With("component", "bus")}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports connection health.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Message is one entry read from the event stream.
type Message struct {
	ID     string
	Values map[string]any
}

// PublishEvent appends an event to the stream and returns its message id.
func (c *Client) PublishEvent(ctx context.Context, values map[string]any) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: EventStream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// Consume reads up to count new messages for the consumer group, blocking
// up to block. The group is created on first use. A block timeout returns
// an empty slice, not an error.
func (c *Client) Consume(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	if err := c.ensureGroup(ctx, group); err != nil {
		return nil, err
	}
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{EventStream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read event stream: %w", err)
	}

	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			values := make(map[string]any, len(m.Values))
			for k, v := range m.Values {
				values[k] = v
			}
			out = append(out, Message{ID: m.ID, Values: values})
		}
	}
	return out, nil
}

// AutoClaim transfers ownership of messages pending longer than minIdle
// to the given consumer, returning them for reprocessing. Used by the
// stale-pending scan to recover messages from dead consumers.
func (c *Client) AutoClaim(ctx context.Context, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   EventStream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("auto-claim pending messages: %w", err)
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		values := make(map[string]any, len(m.Values))
		for k, v := range m.Values {
			values[k] = v
		}
		out = append(out, Message{ID: m.ID, Values: values})
	}
	return out, nil
}

// Ack acknowledges a processed message for the group.
func (c *Client) Ack(ctx context.Context, group, msgID string) error {
	if err := c.rdb.XAck(ctx, EventStream, group, msgID).Err(); err != nil {
		return fmt.Errorf("ack message %s: %w", msgID, err)
	}
	return nil
}

// Pending returns the number of delivered-but-unacked messages for a group.
func (c *Client) Pending(ctx context.Context, group string) (int64, error) {
	p, err := c.rdb.XPending(ctx, EventStream, group).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("pending for group %s: %w", group, err)
	}
	return p.Count, nil
}

func (c *Client) ensureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, EventStream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", group, err)
	}
	return nil
}

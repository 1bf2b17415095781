package redisstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/retry"
)

// Entry is one delivered stream entry: the broker-assigned id plus the flat
// string envelope.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Client wraps a Redis connection with the stream operations the stage
// runners and the ingress need. A single Client is safe for concurrent use.
type Client struct {
	rdb           *redis.Client
	maxLen        int64
	publishPolicy config.RetryPolicy
}

// NewClient dials Redis and returns a stream client. The caller owns the
// connection and must Close it on shutdown.
func NewClient(cfg config.Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{rdb: rdb, maxLen: cfg.StreamMaxLen, publishPolicy: cfg.DefaultRetry()}
}

// NewClientFromRedis wraps an existing connection. Tests use this with
// miniredis-backed clients.
func NewClientFromRedis(rdb *redis.Client, maxLen int64, publishPolicy config.RetryPolicy) *Client {
	return &Client{rdb: rdb, maxLen: maxLen, publishPolicy: publishPolicy}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.rdb.Close() }

// Ping probes the connection; used by the deep health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=redisstream.Ping: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group on stream starting at id "0",
// creating the stream when absent. A group that already exists is success;
// any other error is fatal to startup.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("op=redisstream.EnsureGroup stream=%s group=%s: %w", stream, group, err)
	}
	return nil
}

// ReadGroup block-reads up to count new entries for this consumer. An empty
// read (block timeout elapsed) returns a nil slice and no error.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("op=redisstream.ReadGroup stream=%s: %w", stream, err)
	}
	var entries []Entry
	for _, s := range res {
		for _, m := range s.Messages {
			entries = append(entries, Entry{ID: m.ID, Fields: stringFields(m.Values)})
		}
	}
	return entries, nil
}

// Publish appends fields to stream with approximate maxlen trimming,
// retrying transient failures under the publish policy. It returns the
// broker-assigned entry id.
func (c *Client) Publish(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	var id string
	err := retry.Do(ctx, c.publishPolicy, func() error {
		var err error
		id, err = c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: c.maxLen,
			Approx: true,
			Values: values,
		}).Result()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("op=redisstream.Publish stream=%s: %w", stream, err)
	}
	return id, nil
}

// Ack acknowledges an entry id for the group. Acking an already-acked id is
// a no-op.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("op=redisstream.Ack stream=%s id=%s: %w", stream, id, err)
	}
	return nil
}

// PushPersistent left-pushes a serialized failure record onto the
// operator-visible DLQ list.
func (c *Client) PushPersistent(ctx context.Context, payload string) error {
	if err := c.rdb.LPush(ctx, PersistentFailuresList, payload).Err(); err != nil {
		return fmt.Errorf("op=redisstream.PushPersistent: %w", err)
	}
	return nil
}

// ListPersistent returns every record on the DLQ list in list order.
func (c *Client) ListPersistent(ctx context.Context) ([]string, error) {
	items, err := c.rdb.LRange(ctx, PersistentFailuresList, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("op=redisstream.ListPersistent: %w", err)
	}
	return items, nil
}

// RemovePersistent removes exactly one record equal to payload from the DLQ
// list and reports how many were removed (0 when absent).
func (c *Client) RemovePersistent(ctx context.Context, payload string) (int64, error) {
	n, err := c.rdb.LRem(ctx, PersistentFailuresList, 1, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("op=redisstream.RemovePersistent: %w", err)
	}
	return n, nil
}

// Redis returns the underlying connection for components that share it
// (rate limiter, health checks).
func (c *Client) Redis() *redis.Client { return c.rdb }

func stringFields(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

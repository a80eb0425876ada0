package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisSeenCache tracks which dedup keys were already delivered per market so
// later runs can suppress repeat postings while the TTL window is open. It is
// optional; callers treat a nil cache as "nothing seen".
type RedisSeenCache struct {
	client *redis.Client
	ttl    time.Duration
}

const seenKeyPrefix = "coach:seen:"

// NewRedisSeenCache connects to Redis and verifies the connection.
func NewRedisSeenCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSeenCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}

	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisSeenCache{client: client, ttl: ttl}, nil
}

// MarkDelivered records dedup keys for a market. SetNX keeps the first
// delivery as the TTL anchor, so a key expires ttl after it was first sent
// out rather than sliding forward on every run.
func (c *RedisSeenCache) MarkDelivered(ctx context.Context, market string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, k := range keys {
		pipe.SetNX(ctx, seenKey(market, k), 1, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "redis: mark delivered")
	}
	return nil
}

// FilterDelivered reports which of the given keys were already delivered for
// the market within the TTL window.
func (c *RedisSeenCache) FilterDelivered(ctx context.Context, market string, keys []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return seen, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Exists(ctx, seenKey(market, k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, eris.Wrap(err, "redis: filter delivered")
	}

	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			seen[keys[i]] = true
		}
	}
	return seen, nil
}

func (c *RedisSeenCache) Close() error {
	return c.client.Close()
}

func seenKey(market, dedupKey string) string {
	return seenKeyPrefix + market + ":" + dedupKey
}

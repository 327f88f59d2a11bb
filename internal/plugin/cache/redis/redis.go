package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/memoric/memoric/internal/config"
	registrycache "github.com/memoric/memoric/internal/registry/cache"
)

const defaultTTL = 10 * time.Minute

// fieldSep keeps topic and category unambiguous inside one hash field.
const fieldSep = "\x1f"

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.OccurrenceCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMORIC_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.OccurrenceCacheTTL)
}

// LoadFromURL creates an OccurrenceCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.OccurrenceCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisOccurrenceCache{client: client, ttl: ttl}, nil
}

// redisOccurrenceCache keeps one hash per user so invalidation is a single
// DEL. The whole hash shares a TTL refreshed on every write.
type redisOccurrenceCache struct {
	client *goredis.Client
	ttl    time.Duration
}

var _ registrycache.OccurrenceCache = (*redisOccurrenceCache)(nil)

func userKey(userID string) string { return "occ:" + userID }

func field(topic, category string) string { return topic + fieldSep + category }

func (c *redisOccurrenceCache) Available() bool { return true }

func (c *redisOccurrenceCache) Get(ctx context.Context, userID, topic, category string) (int64, bool) {
	val, err := c.client.HGet(ctx, userKey(userID), field(topic, category)).Result()
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *redisOccurrenceCache) Set(ctx context.Context, userID, topic, category string, occurrences int64) error {
	key := userKey(userID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, field(topic, category), occurrences)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisOccurrenceCache) InvalidateUser(ctx context.Context, userID string) error {
	return c.client.Del(ctx, userKey(userID)).Err()
}

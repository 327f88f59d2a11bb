package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoric/memoric/internal/plugin/cache/redis"
	"github.com/memoric/memoric/internal/testutil/testredis"
)

func TestRedisOccurrenceCache(t *testing.T) {
	url := testredis.StartRedis(t)
	ctx := context.Background()

	c, err := redis.LoadFromURL(ctx, url, time.Minute)
	require.NoError(t, err)
	assert.True(t, c.Available())

	_, ok := c.Get(ctx, "user1", "billing", "issue")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "user1", "billing", "issue", 4))
	require.NoError(t, c.Set(ctx, "user1", "deploys", "planning", 2))
	require.NoError(t, c.Set(ctx, "user2", "billing", "issue", 8))

	n, ok := c.Get(ctx, "user1", "billing", "issue")
	require.True(t, ok)
	assert.Equal(t, int64(4), n)

	n, ok = c.Get(ctx, "user1", "deploys", "planning")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
}

func TestRedisInvalidateUser(t *testing.T) {
	url := testredis.StartRedis(t)
	ctx := context.Background()

	c, err := redis.LoadFromURL(ctx, url, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "user1", "billing", "issue", 4))
	require.NoError(t, c.Set(ctx, "user2", "billing", "issue", 8))

	require.NoError(t, c.InvalidateUser(ctx, "user1"))

	_, ok := c.Get(ctx, "user1", "billing", "issue")
	assert.False(t, ok)

	n, ok := c.Get(ctx, "user2", "billing", "issue")
	require.True(t, ok)
	assert.Equal(t, int64(8), n)
}

func TestRedisRejectsBadURL(t *testing.T) {
	_, err := redis.LoadFromURL(context.Background(), "not-a-url", time.Minute)
	assert.Error(t, err)
}

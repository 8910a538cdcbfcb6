package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache needs a reachable redis at REDIS_ADDR (default localhost:6379).
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return NewCache(client, "docpulse:test:"+t.Name()+":")
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	type stats struct {
		Total int64 `json:"total"`
	}

	var got stats
	assert.ErrorIs(t, c.Get(ctx, "stats", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "stats", stats{Total: 4}, time.Minute))
	require.NoError(t, c.Get(ctx, "stats", &got))
	assert.Equal(t, int64(4), got.Total)

}

func TestCacheCounter(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	t.Cleanup(func() { c.client.Del(context.Background(), c.prefix+"generation") })

	n, err := c.Counter(ctx, "generation")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.Incr(ctx, "generation")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Counter(ctx, "generation")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

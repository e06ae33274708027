package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLimiterAllowSlidingWindow(t *testing.T) {
	mr, client := newRedis(t)
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	limiter := Limiter{Client: client, Prefix: "test:", Now: clk.now}

	ctx := context.Background()
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		d, err := limiter.Allow(ctx, "key", window, max)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, max-(i+1), d.Remaining)
	}

	d, err := limiter.Allow(ctx, "key", window, max)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.True(t, mr.Exists("test:key"))

	clk.advance(window + time.Millisecond)
	d, err = limiter.Allow(ctx, "key", window, max)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, clk.t.Add(window), d.ResetAt)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	_, client := newRedis(t)
	limiter := Limiter{Client: client}
	ctx := context.Background()

	d, err := limiter.Allow(ctx, "a", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Allow(ctx, "b", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Allow(ctx, "a", time.Minute, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestLimiterDefaultPrefixAndExpiry(t *testing.T) {
	mr, client := newRedis(t)
	limiter := Limiter{Client: client}

	_, err := limiter.Allow(context.Background(), "ip:10.0.0.1", 30*time.Second, 5)
	require.NoError(t, err)
	require.True(t, mr.Exists(DefaultPrefix+"ip:10.0.0.1"))
	require.Equal(t, 30*time.Second, mr.TTL(DefaultPrefix+"ip:10.0.0.1"))

	mr.FastForward(31 * time.Second)
	require.False(t, mr.Exists(DefaultPrefix+"ip:10.0.0.1"))
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	d, err := Limiter{}.Allow(context.Background(), "key", time.Second, 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 3, d.Remaining)
}

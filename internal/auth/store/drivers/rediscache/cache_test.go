package rediscache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func bucketKey(key string, windowStart time.Time) string {
	return rateKeyPrefix + key + ":" + windowStart.UTC().Format(time.RFC3339)
}

func TestRateLimitsIncrWithin(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	rl := c.RateLimits(time.Minute)
	ctx := context.Background()

	windowStart := time.Now().UTC().Truncate(time.Minute)

	t.Run("caps at max without over-incrementing", func(t *testing.T) {
		const max = 5
		for i := 0; i < max; i++ {
			allowed, err := rl.IncrWithin(ctx, "svc1|10.0.0.1", windowStart, max)
			require.NoError(t, err)
			require.True(t, allowed, "request %d", i+1)
		}

		for i := 0; i < 3; i++ {
			allowed, err := rl.IncrWithin(ctx, "svc1|10.0.0.1", windowStart, max)
			require.NoError(t, err)
			require.False(t, allowed)
		}

		// The stored counter never moved past the limit.
		stored, err := mr.Get(bucketKey("svc1|10.0.0.1", windowStart))
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(max), stored)
	})

	t.Run("a new window starts fresh", func(t *testing.T) {
		allowed, err := rl.IncrWithin(ctx, "svc1|10.0.0.1", windowStart.Add(time.Minute), 5)
		require.NoError(t, err)
		require.True(t, allowed)
	})

	t.Run("bucket lifetime follows the configured window", func(t *testing.T) {
		wide := c.RateLimits(10 * time.Minute)
		_, err := wide.IncrWithin(ctx, "svc2|10.0.0.1", windowStart, 5)
		require.NoError(t, err)

		// The key must outlive its whole window, not just the first minutes.
		require.Equal(t, 11*time.Minute, mr.TTL(bucketKey("svc2|10.0.0.1", windowStart)))
	})

	t.Run("an expired bucket restarts at one", func(t *testing.T) {
		_, err := rl.IncrWithin(ctx, "svc3|10.0.0.1", windowStart, 1)
		require.NoError(t, err)
		allowed, err := rl.IncrWithin(ctx, "svc3|10.0.0.1", windowStart, 1)
		require.NoError(t, err)
		require.False(t, allowed)

		mr.FastForward(bucketTTL(time.Minute))

		allowed, err = rl.IncrWithin(ctx, "svc3|10.0.0.1", windowStart, 1)
		require.NoError(t, err)
		require.True(t, allowed)
	})
}

func TestRevokedTokens(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	rt := c.RevokedTokens()
	ctx := context.Background()

	t.Run("revoked fingerprints are found", func(t *testing.T) {
		require.NoError(t, rt.Revoke(ctx, "fp-1", time.Now().Add(time.Hour)))

		revoked, err := rt.IsRevoked(ctx, "fp-1")
		require.NoError(t, err)
		require.True(t, revoked)
	})

	t.Run("unknown fingerprints are not", func(t *testing.T) {
		revoked, err := rt.IsRevoked(ctx, "fp-never-seen")
		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("entries expire with the token they block", func(t *testing.T) {
		require.NoError(t, rt.Revoke(ctx, "fp-2", time.Now().Add(time.Minute)))

		mr.FastForward(2 * time.Minute)

		revoked, err := rt.IsRevoked(ctx, "fp-2")
		require.NoError(t, err)
		require.False(t, revoked)
	})
}

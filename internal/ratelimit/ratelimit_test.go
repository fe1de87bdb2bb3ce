package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitinsight/internal/config"
	"visitinsight/internal/counter"
	"visitinsight/internal/logging"
)

func setupLimiter(t *testing.T, rules map[Class]Rule) (*Limiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	l := New(counter.NewRedisStore(client, time.Second), rules, logging.Discard(), nil)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestAllowFixedWindow(t *testing.T) {
	const quota, total = 5, 9
	window := time.Minute
	l, _, _ := setupLimiter(t, map[Class]Rule{ClassAPI: {Limit: quota, Window: window}})
	ctx := context.Background()

	for i := 1; i <= total; i++ {
		d := l.Allow(ctx, "1.2.3.4", ClassAPI)
		if i <= quota {
			assert.True(t, d.Allowed, "request %d should pass", i)
			assert.Equal(t, quota-i, d.Remaining)
		} else {
			assert.False(t, d.Allowed, "request %d should be rejected", i)
			assert.Zero(t, d.Remaining)
		}
		assert.Equal(t, quota, d.Limit)
		assert.Greater(t, d.RetryAfter, time.Duration(0))
		assert.LessOrEqual(t, d.RetryAfter, window)
	}

	// Other clients and other classes have their own counters.
	assert.True(t, l.Allow(ctx, "5.6.7.8", ClassAPI).Allowed)
}

func TestAllowRetryAfterIsTimeLeftInWindow(t *testing.T) {
	l, _, now := setupLimiter(t, map[Class]Rule{ClassLogin: {Limit: 1, Window: 15 * time.Minute}})

	l.Allow(context.Background(), "ip", ClassLogin)
	d := l.Allow(context.Background(), "ip", ClassLogin)

	require.False(t, d.Allowed)
	// 12:00:10 sits in the 12:00-12:15 bucket.
	assert.Equal(t, 15*time.Minute-10*time.Second, d.RetryAfter)
	assert.Equal(t, now.Truncate(15*time.Minute).Add(15*time.Minute), d.ResetAt.UTC())
}

func TestAllowNewWindowResetsCount(t *testing.T) {
	l, mr, now := setupLimiter(t, map[Class]Rule{ClassTrack: {Limit: 2, Window: time.Minute}})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "ip", ClassTrack).Allowed)
	assert.True(t, l.Allow(ctx, "ip", ClassTrack).Allowed)
	assert.False(t, l.Allow(ctx, "ip", ClassTrack).Allowed)

	k := key(ClassTrack, "ip", now.UnixNano()/time.Minute.Nanoseconds())
	assert.Equal(t, time.Minute, mr.TTL(k))

	*now = now.Add(time.Minute)
	assert.True(t, l.Allow(ctx, "ip", ClassTrack).Allowed)
}

func TestAllowFailsOpen(t *testing.T) {
	var faults []string
	l, mr, _ := setupLimiter(t, map[Class]Rule{ClassAPI: {Limit: 1, Window: time.Minute}})
	l.onFault = func(op string) { faults = append(faults, op) }
	mr.SetError("ERR simulated outage")

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(context.Background(), "ip", ClassAPI).Allowed)
	}
	assert.Len(t, faults, 3)
}

func TestAllowUnknownClass(t *testing.T) {
	l, _, _ := setupLimiter(t, map[Class]Rule{})
	assert.True(t, l.Allow(context.Background(), "ip", ClassAPI).Allowed)
}

func TestRulesFromConfig(t *testing.T) {
	rules := RulesFromConfig(&config.Config{
		TrackRate: config.RateRule{Limit: 1000, Window: time.Minute},
		APIRate:   config.RateRule{Limit: 100, Window: time.Minute},
		LoginRate: config.RateRule{Limit: 5, Window: 15 * time.Minute},
	})
	assert.Equal(t, Rule{Limit: 5, Window: 15 * time.Minute}, rules[ClassLogin])
	assert.Len(t, rules, 3)
}

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"visitinsight/internal/counter"
	"visitinsight/internal/logging"
)

func setup(t *testing.T) (*Deduplicator, *miniredis.Miniredis, *[]string) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var faults []string
	d := New(counter.NewRedisStore(client, time.Second), logging.Discard(), func(op string) {
		faults = append(faults, op)
	})
	return d, mr, &faults
}

func TestIsNewVisitorOncePerWindow(t *testing.T) {
	d, mr, faults := setup(t)
	ctx := context.Background()

	assert.True(t, d.IsNewVisitor(ctx, 1, "v1"))
	for i := 0; i < 5; i++ {
		assert.False(t, d.IsNewVisitor(ctx, 1, "v1"))
	}
	assert.Equal(t, Window, mr.TTL("visitor:1:v1"))

	// Same visitor on another site, another visitor on the same site.
	assert.True(t, d.IsNewVisitor(ctx, 2, "v1"))
	assert.True(t, d.IsNewVisitor(ctx, 1, "v2"))

	mr.FastForward(Window - time.Second)
	assert.False(t, d.IsNewVisitor(ctx, 1, "v1"))

	// The marker is not refreshed by later sightings.
	mr.FastForward(2 * time.Second)
	assert.True(t, d.IsNewVisitor(ctx, 1, "v1"))
	assert.Empty(t, *faults)
}

func TestIsNewVisitorStoreFailureMeansNotNew(t *testing.T) {
	d, mr, faults := setup(t)

	mr.SetError("ERR simulated outage")

	assert.False(t, d.IsNewVisitor(context.Background(), 1, "v1"))
	assert.Equal(t, []string{"dedup_get"}, *faults)
}

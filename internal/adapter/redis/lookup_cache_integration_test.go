package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mengy007/evv-poc/internal/adapter/metrics"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls  int
	result *domain.Party
	err    error
}

func (l *countingLoader) load(context.Context) (*domain.Party, error) {
	l.calls++
	return l.result, l.err
}

func newTestLookupCache(t *testing.T) (*LookupCache, *metrics.CacheMetrics, *clockwork.FakeClock) {
	t.Helper()
	client := setupTestClient(t)
	clock := clockwork.NewFakeClock()
	m := metrics.NewCacheMetrics(prometheus.NewRegistry())
	cache := NewLookupCache(client, LookupCacheConfig{
		RedisTTL:  time.Hour,
		MemoryTTL: 10 * time.Second,
		Clock:     clock,
		Metrics:   m,
	})
	return cache, m, clock
}

func TestLookupCache_ReadThroughLayers(t *testing.T) {
	cache, m, clock := newTestLookupCache(t)
	ctx := context.Background()
	loader := &countingLoader{result: &domain.Party{ID: 4, Hash: strPtr("abc"), Name: strPtr("Ash")}}

	p, err := cache.Lookup(ctx, "patient", "abc", loader.load)
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.ID)
	assert.Equal(t, 1, loader.calls)

	_, err = cache.Lookup(ctx, "patient", "abc", loader.load)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Hits.WithLabelValues("memory")), 0)

	// Memory expires; Redis still has it.
	clock.Advance(11 * time.Second)
	p, err = cache.Lookup(ctx, "patient", "abc", loader.load)
	require.NoError(t, err)
	assert.Equal(t, "Ash", *p.Name)
	assert.Equal(t, 1, loader.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Hits.WithLabelValues("redis")), 0)
}

func TestLookupCache_MissesAreNotCached(t *testing.T) {
	cache, _, _ := newTestLookupCache(t)
	ctx := context.Background()
	loader := &countingLoader{}

	for range 2 {
		p, err := cache.Lookup(ctx, "user", "nobody", loader.load)
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Equal(t, 2, loader.calls)
}

func TestLookupCache_LoaderErrorPropagates(t *testing.T) {
	cache, _, _ := newTestLookupCache(t)
	boom := errors.New("db down")

	_, err := cache.Lookup(context.Background(), "user", "x", (&countingLoader{err: boom}).load)
	require.ErrorIs(t, err, boom)
}

func TestLookupCache_Invalidate(t *testing.T) {
	cache, m, _ := newTestLookupCache(t)
	ctx := context.Background()
	loader := &countingLoader{result: &domain.Party{ID: 1, Hash: strPtr("h")}}

	_, err := cache.Lookup(ctx, "user", "h", loader.load)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, "user", "h", ""))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Invalidations.WithLabelValues("user")), 0)

	_, err = cache.Lookup(ctx, "user", "h", loader.load)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)

	require.NoError(t, cache.Invalidate(ctx, "user"))
}

func TestLookupCache_EvictionTimer(t *testing.T) {
	cache, _, clock := newTestLookupCache(t)
	cache.mem.set("lookup:user:x", &domain.Party{ID: 1})

	stop := cache.StartEvictionTimer(time.Minute)
	defer stop()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Minute)

	assert.Eventually(t, func() bool { return cache.mem.size() == 0 }, time.Second, 10*time.Millisecond)
	stop()
}

func TestLookupCache_LoadRacingInvalidateIsNotWrittenBack(t *testing.T) {
	cache, _, _ := newTestLookupCache(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	stale := func(context.Context) (*domain.Party, error) {
		close(entered)
		<-release
		return &domain.Party{ID: 2, Hash: strPtr("dev-1")}, nil
	}

	type result struct {
		p   *domain.Party
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := cache.Lookup(ctx, "patient", "dev-1", stale)
		done <- result{p, err}
	}()

	<-entered
	require.NoError(t, cache.Invalidate(ctx, "patient", "dev-1"))
	close(release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, int64(2), first.p.ID, "the in-flight caller still gets its own read")

	// The row is gone now; the next lookup must reach the loader again.
	deleted := &countingLoader{}
	p, err := cache.Lookup(ctx, "patient", "dev-1", deleted.load)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 1, deleted.calls)

	n, err := cache.rdb.Exists(ctx, lookupKey("patient", "dev-1")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

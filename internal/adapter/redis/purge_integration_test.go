package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLookups(t *testing.T, ctx context.Context) *LookupCache {
	t.Helper()
	cache, _, _ := newTestLookupCache(t)
	rdb := cache.rdb

	require.NoError(t, rdb.Set(ctx, lookupKey("user", "good"), `{"id":1,"hash":"good","name":null,"createdAt":"2026-05-04T14:30:00Z"}`, time.Hour).Err())
	require.NoError(t, rdb.Set(ctx, lookupKey("patient", "good"), `{"id":2,"hash":"good","name":null,"createdAt":"2026-05-04T14:30:00Z"}`, time.Hour).Err())
	require.NoError(t, rdb.Set(ctx, lookupKey("user", "garbage"), `not-json`, time.Hour).Err())
	require.NoError(t, rdb.Set(ctx, lookupKey("patient", "forever"), `{"id":3,"hash":"forever","name":null,"createdAt":"2026-05-04T14:30:00Z"}`, 0).Err())
	require.NoError(t, rdb.Set(ctx, "unrelated", "x", 0).Err())
	return cache
}

func TestPurgeLookups_UnservableOnly(t *testing.T) {
	ctx := context.Background()
	cache := seedLookups(t, ctx)

	stats, err := PurgeLookups(ctx, cache.rdb, PurgeOptions{})

	require.NoError(t, err)
	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 2, stats.Removed)
	assert.Equal(t, 2, stats.Kept)

	n, err := cache.rdb.Exists(ctx, lookupKey("user", "garbage"), lookupKey("patient", "forever")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = cache.rdb.Exists(ctx, lookupKey("user", "good"), "unrelated").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPurgeLookups_KindAndAll(t *testing.T) {
	ctx := context.Background()
	cache := seedLookups(t, ctx)

	stats, err := PurgeLookups(ctx, cache.rdb, PurgeOptions{Kind: "patient", All: true})

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Removed)
	n, err := cache.rdb.Exists(ctx, lookupKey("user", "good"), lookupKey("user", "garbage")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPurgeLookups_DryRun(t *testing.T) {
	ctx := context.Background()
	cache := seedLookups(t, ctx)

	stats, err := PurgeLookups(ctx, cache.rdb, PurgeOptions{All: true, DryRun: true})

	require.NoError(t, err)
	assert.Equal(t, 4, stats.Removed)
	n, err := cache.rdb.DBSize(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mengy007/evv-poc/internal/adapter/metrics"
	"github.com/mengy007/evv-poc/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// LookupCache is a read-through cache for user and patient hash lookups:
// in-process memory first, then Redis, then the loader (Postgres).
// Misses are never cached so a newly created row is visible immediately.
type LookupCache struct {
	rdb      goredis.Cmdable
	mem      *memoryCache
	redisTTL time.Duration
	m        *metrics.CacheMetrics

	// invalidations counts evictions seen by this instance. A load that
	// overlaps one does not write its result back.
	invalidations atomic.Uint64
}

var _ domain.PartyCache = (*LookupCache)(nil)

type LookupCacheConfig struct {
	RedisTTL  time.Duration
	MemoryTTL time.Duration
	Clock     clockwork.Clock
	Metrics   *metrics.CacheMetrics
}

func NewLookupCache(rdb goredis.Cmdable, cfg LookupCacheConfig) *LookupCache {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LookupCache{
		rdb:      rdb,
		mem:      newMemoryCache(cfg.MemoryTTL, clock),
		redisTTL: cfg.RedisTTL,
		m:        cfg.Metrics,
	}
}

const lookupKeyPrefix = "lookup:"

func lookupKey(kind, hash string) string {
	return lookupKeyPrefix + kind + ":" + hash
}

func (c *LookupCache) Lookup(ctx context.Context, kind, hash string, load func(ctx context.Context) (*domain.Party, error)) (*domain.Party, error) {
	key := lookupKey(kind, hash)
	seen := c.invalidations.Load()

	if p, ok := c.mem.get(key); ok {
		c.hit("memory")
		return p, nil
	}
	c.miss("memory")

	if p, ok := c.getCached(ctx, key); ok {
		c.hit("redis")
		if c.invalidations.Load() == seen {
			c.mem.set(key, p)
		}
		return p, nil
	}
	c.miss("redis")

	p, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s lookup by hash failed: %w", kind, err)
	}
	if p == nil {
		return nil, nil
	}

	if c.invalidations.Load() != seen {
		slog.DebugContext(ctx, "Skipping cache write for lookup that raced an invalidation", "key", key)
		return p, nil
	}
	c.mem.set(key, p)
	c.writeCache(ctx, key, p)
	return p, nil
}

// Invalidate evicts the given hashes from both layers. Empty hashes are skipped.
func (c *LookupCache) Invalidate(ctx context.Context, kind string, hashes ...string) error {
	keys := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h == "" {
			continue
		}
		key := lookupKey(kind, h)
		c.evictLocal(key)
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}

	if c.m != nil {
		c.m.Invalidations.WithLabelValues(kind).Inc()
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate lookup cache: %w", err)
	}
	for _, key := range keys {
		if err := publishLookupInvalidation(ctx, c.rdb, key); err != nil {
			return err
		}
	}
	return nil
}

// evictLocal drops key from the memory layer only.
func (c *LookupCache) evictLocal(key string) {
	c.invalidations.Add(1)
	c.mem.invalidate(key)
}

func isLookupKey(key string) bool {
	return strings.HasPrefix(key, lookupKeyPrefix) && len(key) > len(lookupKeyPrefix)
}

// StartEvictionTimer periodically drops expired memory entries. Call the
// returned func to stop it.
func (c *LookupCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.mem.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired lookup cache entries", "count", evicted, "remaining", c.mem.size())
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *LookupCache) writeCache(ctx context.Context, key string, p *domain.Party) {
	encoded, err := json.Marshal(p)
	if err != nil {
		slog.Warn("Failed to marshal lookup for Redis cache", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, encoded, c.redisTTL).Err(); err != nil {
		slog.Warn("Failed to populate Redis lookup cache", "key", key, "error", err)
	}
}

func (c *LookupCache) getCached(ctx context.Context, key string) (*domain.Party, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.Warn("Redis lookup cache GET failed", "key", key, "error", err)
		}
		return nil, false
	}

	var p domain.Party
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("Failed to unmarshal cached lookup", "key", key, "error", err)
		return nil, false
	}
	return &p, true
}

func (c *LookupCache) hit(layer string) {
	if c.m != nil {
		c.m.Hits.WithLabelValues(layer).Inc()
	}
}

func (c *LookupCache) miss(layer string) {
	if c.m != nil {
		c.m.Misses.WithLabelValues(layer).Inc()
	}
}

// memoryCache is the L1 layer with per-entry expiry.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type memoryCacheEntry struct {
	party     domain.Party
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration, clock clockwork.Clock) *memoryCache {
	return &memoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *memoryCache) get(key string) (*domain.Party, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(entry.expiresAt) {
		return nil, false
	}
	p := entry.party
	return &p, true
}

func (c *memoryCache) set(key string, p *domain.Party) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{party: *p, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *memoryCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

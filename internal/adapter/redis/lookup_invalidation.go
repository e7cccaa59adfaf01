package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

const lookupInvalidationChannel = "lookup:invalidate"

// LookupInvalidationSubscriber evicts memory-layer entries when any instance
// invalidates a lookup. Redis entries are already gone by then.
type LookupInvalidationSubscriber struct {
	rdb   *goredis.Client
	cache *LookupCache
}

func NewLookupInvalidationSubscriber(rdb *goredis.Client, cache *LookupCache) *LookupInvalidationSubscriber {
	return &LookupInvalidationSubscriber{rdb: rdb, cache: cache}
}

// Start blocks until ctx is done or the subscription closes.
func (s *LookupInvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, lookupInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleInvalidation(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *LookupInvalidationSubscriber) handleInvalidation(key string) {
	if !isLookupKey(key) {
		slog.Warn("Ignoring malformed lookup invalidation message", "payload", key)
		return
	}

	s.cache.evictLocal(key)
	slog.Debug("Lookup cache invalidated via pub/sub", "key", key)
}

func publishLookupInvalidation(ctx context.Context, rdb goredis.Cmdable, key string) error {
	if err := rdb.Publish(ctx, lookupInvalidationChannel, key).Err(); err != nil {
		return fmt.Errorf("failed to publish lookup invalidation: %w", err)
	}
	return nil
}

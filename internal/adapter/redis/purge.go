package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mengy007/evv-poc/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const purgeScanCount = 100

// PurgeOptions selects which cached lookups PurgeLookups removes. With All
// unset only entries that can no longer be served are removed: values that
// fail to decode, and keys without a TTL.
type PurgeOptions struct {
	Kind   string // "user", "patient" or "" for both
	All    bool
	DryRun bool
}

type PurgeStats struct {
	Scanned  int
	Removed  int
	Kept     int
	Duration time.Duration
}

// PurgeLookups walks the lookup keyspace with SCAN and deletes the selected
// entries. Entries are deleted one at a time so a concurrent refill is never
// lost to a stale batch.
func PurgeLookups(ctx context.Context, rdb goredis.Cmdable, opts PurgeOptions) (PurgeStats, error) {
	start := time.Now()
	var stats PurgeStats

	pattern := "lookup:*"
	if opts.Kind != "" {
		pattern = lookupKey(opts.Kind, "*")
	}

	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, purgeScanCount).Result()
		if err != nil {
			return stats, fmt.Errorf("scan failed: %w", err)
		}

		for _, key := range keys {
			stats.Scanned++

			remove, reason, err := shouldPurge(ctx, rdb, key, opts.All)
			if err != nil {
				return stats, err
			}
			if !remove {
				stats.Kept++
				continue
			}

			if !opts.DryRun {
				if err := rdb.Del(ctx, key).Err(); err != nil {
					return stats, fmt.Errorf("failed to delete %s: %w", key, err)
				}
			}
			slog.Debug("Purged cached lookup", "key", key, "reason", reason, "dry_run", opts.DryRun)
			stats.Removed++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func shouldPurge(ctx context.Context, rdb goredis.Cmdable, key string, all bool) (bool, string, error) {
	if all {
		return true, "all", nil
	}

	data, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		// Expired between SCAN and GET.
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to read %s: %w", key, err)
	}

	var p domain.Party
	if err := json.Unmarshal(data, &p); err != nil || p.ID <= 0 {
		return true, "undecodable", nil
	}

	ttl, err := rdb.TTL(ctx, key).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to read TTL of %s: %w", key, err)
	}
	if ttl < 0 {
		return true, "no_ttl", nil
	}
	return false, "", nil
}

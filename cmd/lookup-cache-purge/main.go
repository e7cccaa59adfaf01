// Command lookup-cache-purge removes cached user and patient lookups from
// Redis. By default it only drops entries the server could not serve; -all
// drops every entry, for example after a bulk import into Postgres.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mengy007/evv-poc/internal/adapter/redis"
	"github.com/mengy007/evv-poc/internal/platform/logging"
)

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		kind     = flag.String("kind", "", `Only purge one kind: "user" or "patient"`)
		all      = flag.Bool("all", false, "Purge every cached lookup, not only unservable ones")
		dryRun   = flag.Bool("dry-run", false, "Dry run mode (don't write to Redis)")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}
	if *kind != "" && *kind != "user" && *kind != "patient" {
		log.Fatalf("Unknown kind %q", *kind)
	}

	logLevel := "info"
	if *verbose {
		logLevel = "debug"
	}
	logging.InitLogger(logLevel, "text")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	rdb, err := redis.NewClient(ctx, *redisURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	slog.Info("Starting purge", "kind", *kind, "all", *all, "dry_run", *dryRun)
	stats, err := redis.PurgeLookups(ctx, rdb, redis.PurgeOptions{Kind: *kind, All: *all, DryRun: *dryRun})
	if err != nil {
		log.Fatalf("Purge failed: %v", err)
	}

	slog.Info("Purge summary",
		"scanned", stats.Scanned,
		"removed", stats.Removed,
		"kept", stats.Kept,
		"duration_ms", stats.Duration.Milliseconds())
}

// sanitizeURL hides the password in a Redis URL for logging.
func sanitizeURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":" + credParts[1] + ":***@" + parts[1]
			}
		}
	}
	return url
}

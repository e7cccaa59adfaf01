package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mengy007/evv-poc/internal/adapter/httpserver"
	"github.com/mengy007/evv-poc/internal/adapter/metrics"
	"github.com/mengy007/evv-poc/internal/adapter/postgres"
	"github.com/mengy007/evv-poc/internal/adapter/redis"
	"github.com/mengy007/evv-poc/internal/app"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/platform/config"
	"github.com/mengy007/evv-poc/internal/platform/logging"
	"github.com/mengy007/evv-poc/internal/platform/retry"
	"github.com/mengy007/evv-poc/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

func runGracefulShutdown(srv *httpserver.Server) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupDB connects with retries so the server survives Postgres starting
// after it, then applies migrations under the advisory lock.
func setupDB(cfg *config.Config, storageMetrics *metrics.StorageMetrics) *pgxpool.Pool {
	policy := retry.Policy{
		MaxAttempts:    cfg.DBConnectAttempts,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	pool, err := retry.Do(context.Background(), policy, retry.Always, func(ctx context.Context) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
		defer cancel()
		return postgres.Connect(ctx, cfg.DatabaseURL,
			postgres.WithMaxConns(cfg.DBMaxConns),
			postgres.WithTracer(postgres.NewMetricsTracer(storageMetrics)),
		)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// setupRedis returns nil when no REDIS_URL is configured. Lookups then go
// straight to Postgres.
func setupRedis(cfg *config.Config, storageMetrics *metrics.StorageMetrics) *goredis.Client {
	if !cfg.CacheEnabled() {
		slog.Info("REDIS_URL not set, lookup cache disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := redis.NewClient(ctx, cfg.RedisURL, storageMetrics)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Version, "port", cfg.Port)

	reg := metrics.NewRegistry()
	storageMetrics := metrics.NewStorageMetrics(reg)
	ledgerMetrics := metrics.NewLedgerMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	pool := setupDB(cfg, storageMetrics)
	defer pool.Close()

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}

	// Pass nil explicitly to avoid a typed-nil interface.
	var lookupCache domain.PartyCache
	if redisClient := setupRedis(cfg, storageMetrics); redisClient != nil {
		defer func() { _ = redisClient.Close() }()

		cache := redis.NewLookupCache(redisClient, redis.LookupCacheConfig{
			RedisTTL:  cfg.LookupCacheTTL,
			MemoryTTL: cfg.LookupMemoryTTL,
			Clock:     clock,
			Metrics:   metrics.NewCacheMetrics(reg),
		})
		stopEviction := cache.StartEvictionTimer(time.Minute)
		defer stopEviction()

		subCtx, stopSubscriber := context.WithCancel(context.Background())
		defer stopSubscriber()
		go redis.NewLookupInvalidationSubscriber(redisClient, cache).Start(subCtx)

		lookupCache = cache
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	directory := app.NewDirectory(postgres.NewUserRepo(pool), postgres.NewPatientRepo(pool), lookupCache)

	srv := httpserver.NewServer(cfg, httpserver.Services{
		Ledger:   app.NewLedger(postgres.NewSessionRepo(pool), clock, ledgerMetrics),
		Registry: app.NewRegistry(postgres.NewDeviceRepo(pool), clock, ledgerMetrics),
		Users:    directory.Users,
		Patients: directory.Patients,
	}, httpMetrics, metrics.Handler(reg), healthChecks)

	done := runGracefulShutdown(srv)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

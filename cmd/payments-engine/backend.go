package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/payments-engine/internal/config"
	"github.com/atmx/payments-engine/internal/store"
)

// backend is the pair of stores a run writes to.
type backend struct {
	RunID    uuid.UUID
	Accounts store.AccountStore
	History  store.History
	cleanup  []func()
}

func (b *backend) Close() {
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		b.cleanup[i]()
	}
}

// openBackend picks PostgreSQL when DATABASE_URL is set and in-memory
// maps otherwise. REDIS_URL moves the transaction history to Redis.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{RunID: uuid.New()}

	if dbURL := cfg.Storage.DatabaseURL; dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		b.cleanup = append(b.cleanup, pool.Close)

		pg := store.NewPostgresStore(pool, b.RunID)
		if err := pg.Migrate(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Accounts, b.History = pg, pg
		logger.Info("using PostgreSQL store", "run_id", b.RunID)
	} else {
		ms := store.NewMemoryStore(cfg.Engine.Shards)
		b.Accounts, b.History = ms, ms
		logger.Debug("using in-memory store", "shards", cfg.Engine.Shards)
	}

	if redisURL := cfg.Storage.RedisURL; redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		b.cleanup = append(b.cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}

		ttl, _ := cfg.HistoryTTL()
		history := store.NewRedisHistory(rdb, b.RunID, ttl)
		b.History = history
		// Cleanups run in reverse, so the purge precedes rdb.Close.
		b.cleanup = append(b.cleanup, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := history.Purge(ctx); err != nil {
				logger.Error("purge redis history", "run_id", b.RunID, "err", err)
			}
		})
		logger.Info("using Redis transaction history", "run_id", b.RunID, "ttl", ttl)
	}
	return b, nil
}

// Package dedupe counts how often the same image content has been ingested.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/config"
)

// Tracker records ingestions keyed by identity hash.
type Tracker interface {
	// Record notes one more ingestion of hash and returns the updated count.
	Record(ctx context.Context, hash string, pipeline string, pipelineVersion int) (int, error)
	// SeenCount returns how many times hash was recorded, 0 if never.
	SeenCount(ctx context.Context, hash string) (int, error)
	Close() error
}

// New builds the tracker selected by cfg.Backend.
func New(ctx context.Context, cfg config.DedupeConfig, logger zerolog.Logger) (Tracker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryTracker(), nil
	case "redis":
		return NewRedisTracker(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisKey,
		})
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open dedupe database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping dedupe database: %w", err)
		}
		return NewPostgresTracker(ctx, db, logger)
	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", cfg.Backend)
	}
}

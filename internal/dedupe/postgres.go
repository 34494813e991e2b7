package dedupe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PostgresTracker keeps counts in the image_dedupe table.
type PostgresTracker struct {
	db *sql.DB
}

// NewPostgresTracker creates the table if needed. The tracker owns db.
func NewPostgresTracker(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*PostgresTracker, error) {
	tracker := &PostgresTracker{db: db}

	if err := tracker.ensureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}

	logger.Info().Str("table", "image_dedupe").Msg("Dedupe table ready")
	return tracker, nil
}

func (t *PostgresTracker) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS image_dedupe (
			identity_hash TEXT PRIMARY KEY,
			pipeline TEXT,
			pipeline_version INTEGER,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1
		)
	`

	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create image_dedupe table: %w", err)
	}
	return nil
}

func (t *PostgresTracker) Record(ctx context.Context, hash string, pipeline string, pipelineVersion int) (int, error) {
	query := `
		INSERT INTO image_dedupe (identity_hash, pipeline, pipeline_version, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		ON CONFLICT (identity_hash) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = image_dedupe.seen_count + 1,
		    pipeline = EXCLUDED.pipeline,
		    pipeline_version = EXCLUDED.pipeline_version
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, hash, pipeline, pipelineVersion).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}
	return seenCount, nil
}

func (t *PostgresTracker) SeenCount(ctx context.Context, hash string) (int, error) {
	query := `SELECT seen_count FROM image_dedupe WHERE identity_hash = $1`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, hash).Scan(&seenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}
	return seenCount, nil
}

func (t *PostgresTracker) Close() error {
	return t.db.Close()
}

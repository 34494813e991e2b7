// Package dbosruntime owns the DBOS context, its queue and a side
// connection used for status queries.
package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Runtime manages the DBOS runtime lifecycle
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       *dbos.WorkflowQueue
	config      Config
	db          *sql.DB
	logger      zerolog.Logger
}

// NewRuntime creates a new DBOS runtime instance
// Returns error if DBOS_SYSTEM_DATABASE_URL is not set
func NewRuntime(ctx context.Context, cfg Config, logger zerolog.Logger) (*Runtime, error) {
	// DBOS is always required
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}
	if cfg.AppName == "" {
		return nil, errors.New("DBOS app name is required")
	}

	// Apply defaults
	cfg.WithDefaults()

	// Initialize DBOS context
	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("create DBOS context: %w", err)
	}

	// Create workflow queue
	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName)

	// Create database connection for status queries
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open DBOS status connection: %w", err)
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       &queue,
		config:      cfg,
		db:          db,
		logger:      logger.With().Str("component", "dbos").Logger(),
	}, nil
}

// Launch starts the runtime. Workflows must be registered before.
func (r *Runtime) Launch() error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return err
	}
	r.logger.Info().
		Str("app", r.config.AppName).
		Str("queue", r.config.QueueName).
		Int("concurrency", r.config.Concurrency).
		Msg("DBOS runtime launched")
	return nil
}

// Shutdown gracefully shuts down the DBOS runtime
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Context returns the DBOS context
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// QueueName returns the configured queue name
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// Concurrency returns the configured concurrency
func (r *Runtime) Concurrency() int {
	return r.config.Concurrency
}

// Package runner embeds the forensics pipeline in another Go program and
// drives it through DBOS.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/app"
	"github.com/tendant/simple-image-forensics/internal/config"
	"github.com/tendant/simple-image-forensics/internal/dbosruntime"
	"github.com/tendant/simple-image-forensics/internal/storage"
	"github.com/tendant/simple-image-forensics/internal/workflows"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// Config holds the configuration for initializing the pipeline runner
type Config struct {
	DatabaseURL        string // DBOS PostgreSQL connection string
	AppName            string // Application name for DBOS
	QueueName          string // DBOS queue name
	Concurrency        int    // Number of concurrent workers
	ContentAPIURL      string // URL of the simple-content API server
	ApplicationVersion string // Optional: override binary hash for version matching
	RecordsDBPath      string // SQLite file for image records; defaults to forensics.db
	Logger             *zerolog.Logger
}

// IngestOptions tune one enqueued ingest.
type IngestOptions struct {
	ObjectKey   string
	ContentHash string
	Filename    string
	// Per-tier derived versions; missing tiers use version 1.
	Versions map[string]int
}

func (o IngestOptions) request(contentID string) pipeline.ProcessRequest {
	req := pipeline.ProcessRequest{
		ContentID: contentID,
		ObjectKey: o.ObjectKey,
		Job:       pipeline.JobIngest,
		Versions:  o.Versions,
	}
	if o.ContentHash != "" {
		hash := o.ContentHash
		req.ContentHash = &hash
	}
	if o.Filename != "" {
		req.Metadata = map[string]string{"file_name": o.Filename}
	}
	return req
}

func (c Config) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return zerolog.Nop()
}

func (c Config) dbos() dbosruntime.Config {
	return dbosruntime.Config{
		DatabaseURL:        c.DatabaseURL,
		AppName:            c.AppName,
		QueueName:          c.QueueName,
		Concurrency:        c.Concurrency,
		ApplicationVersion: c.ApplicationVersion,
	}
}

// Runner executes ingest workflows in this process via DBOS.
type Runner struct {
	runtime    *dbosruntime.Runtime
	runner     *workflows.WorkflowRunner
	components *app.Components
}

// New builds the pipeline, registers the ingest workflow and launches DBOS.
func New(cfg Config) (*Runner, error) {
	ctx := context.Background()
	logger := cfg.logger()

	appCfg, err := config.FromMap(map[string]string{})
	if err != nil {
		return nil, err
	}
	if cfg.RecordsDBPath != "" {
		appCfg.DBPath = cfg.RecordsDBPath
	}

	components, err := app.Build(ctx, appCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	dbosRuntime, err := dbosruntime.NewRuntime(ctx, cfg.dbos(), logger)
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime, logger)

	content := storage.NewHTTPContentService(cfg.ContentAPIURL)
	workflowRunner.Register(pipeline.JobIngest, workflows.NewIngestWorkflow(
		content, content, components.Orchestrator, components.Store, logger,
		workflows.WithDedupeTracker(components.Tracker),
		workflows.WithObserver(components.Metrics),
	))

	if err := dbosRuntime.Launch(); err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Runner{
		runtime:    dbosRuntime,
		runner:     workflowRunner,
		components: components,
	}, nil
}

// RunIngest enqueues an ingest of contentID and returns the run id.
func (r *Runner) RunIngest(ctx context.Context, contentID string, opts IngestOptions) (string, error) {
	return r.runner.RunAsync(ctx, opts.request(contentID))
}

// Status reports a previously enqueued run.
func (r *Runner) Status(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Shutdown gracefully shuts down the pipeline runner
func (r *Runner) Shutdown(timeout time.Duration) {
	if r.runtime != nil {
		r.runtime.Shutdown(timeout)
	}
	if r.components != nil {
		r.components.Close()
	}
}

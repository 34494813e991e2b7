package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/simple-image-forensics/internal/dbosruntime"
	"github.com/tendant/simple-image-forensics/internal/workflows"
)

// Client enqueues ingests for separately running workers without
// executing them itself.
type Client struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
}

func NewClient(cfg Config) (*Client, error) {
	logger := cfg.logger()

	dbosCfg := cfg.dbos()
	dbosCfg.Concurrency = 0

	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime, logger)

	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Client{
		runtime: dbosRuntime,
		runner:  workflowRunner,
	}, nil
}

// RunIngest enqueues an ingest of contentID for a worker to execute.
func (c *Client) RunIngest(ctx context.Context, contentID string, opts IngestOptions) (string, error) {
	return c.runner.RunAsync(ctx, opts.request(contentID))
}

func (c *Client) Status(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return c.runner.GetStatus(ctx, runID)
}

func (c *Client) Shutdown(timeout time.Duration) {
	if c.runtime != nil {
		c.runtime.Shutdown(timeout)
	}
}

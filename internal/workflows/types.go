package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/dbosruntime"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// WorkflowResult is the durable outcome of a run. Fields are plain values
// so DBOS can checkpoint it.
type WorkflowResult struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

func failed(err error) *WorkflowResult {
	return &WorkflowResult{Success: false, Error: err.Error()}
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// WorkflowStatus is what the runs endpoint reports.
type WorkflowStatus struct {
	RunID      string          `json:"run_id"`
	Name       string          `json:"name,omitempty"`
	State      string          `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     *WorkflowResult `json:"result,omitempty"`
}

// WorkflowRunner dispatches requests to registered workflows, either
// in-process (Run) or through the DBOS queue (RunAsync).
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
	logger      zerolog.Logger

	mu   sync.RWMutex
	runs map[string]*WorkflowStatus
}

// NewWorkflowRunner creates a runner. dbosRuntime may be nil, in which
// case only synchronous runs are available.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime, logger zerolog.Logger) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
		logger:      logger.With().Str("component", "workflows").Logger(),
		runs:        make(map[string]*WorkflowStatus),
	}

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow for job.
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
	r.logger.Info().Str("job", job).Str("workflow", workflow.Name()).Msg("Registered workflow")
}

// Run executes the workflow for wctx.Request.Job in the calling goroutine
// and keeps its status for GetStatus.
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Request.Job]
	if !ok {
		return failed(ErrWorkflowNotFound), ErrWorkflowNotFound
	}

	// Track synchronous runs locally
	status := &WorkflowStatus{
		RunID:     wctx.RunID,
		Name:      workflow.Name(),
		State:     dbosruntime.StateRunning,
		StartedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.runs[wctx.RunID] = status
	r.mu.Unlock()

	result, err := workflow.Execute(wctx)

	finished := time.Now().UTC()
	r.mu.Lock()
	status.FinishedAt = &finished
	status.Result = result
	switch {
	case err != nil, result == nil, !result.Success:
		status.State = dbosruntime.StateFailed
	default:
		status.State = dbosruntime.StateSucceeded
	}
	r.mu.Unlock()

	return result, err
}

// RunAsync enqueues the request on the DBOS queue and returns the run id.
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", ErrAsyncUnavailable
	}

	// Generate workflow ID for exactly-once semantics
	workflowID := fmt.Sprintf("%s-%s-%d", req.Job, req.ContentID, time.Now().UnixNano())

	// Enqueue workflow with DBOS
	handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue workflow: %w", err)
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	// Get workflow by job type
	workflow, ok := r.workflows[req.Job]
	if !ok {
		return failed(ErrWorkflowNotFound), ErrWorkflowNotFound
	}

	// Get workflow ID from DBOS context
	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return failed(err), err
	}

	// DBOSContext implements context.Context; DBOS checkpoints the result
	return workflow.Execute(&WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	})
}

// GetStatus reports a run started by Run or RunAsync.
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	r.mu.RLock()
	local, ok := r.runs[runID]
	if ok {
		snapshot := *local
		r.mu.RUnlock()
		return &snapshot, nil
	}
	r.mu.RUnlock()

	// Async runs live in the DBOS system database
	if r.dbosRuntime == nil {
		return nil, ErrRunNotFound
	}

	info, err := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
	if errors.Is(err, dbosruntime.ErrWorkflowNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	status := &WorkflowStatus{
		RunID:     info.WorkflowUUID,
		Name:      info.Name,
		State:     info.State(),
		StartedAt: info.CreatedAt,
	}
	switch status.State {
	case dbosruntime.StateSucceeded, dbosruntime.StateFailed, dbosruntime.StateCancelled:
		finished := info.UpdatedAt
		status.FinishedAt = &finished
	}
	return status, nil
}

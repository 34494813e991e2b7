package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrWorkflowNotFound is returned when no status row exists for an id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Run states reported to API callers.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// WorkflowStatusInfo is a row of dbos.workflow_status.
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// State maps the DBOS status onto a run state.
func (i WorkflowStatusInfo) State() string {
	return MapStatus(i.Status)
}

// MapStatus translates a DBOS workflow status string.
func MapStatus(status string) string {
	switch strings.ToUpper(status) {
	case "ENQUEUED", "PENDING":
		return StatePending
	case "SUCCESS":
		return StateSucceeded
	case "ERROR", "RETRIES_EXCEEDED", "MAX_RECOVERY_ATTEMPTS_EXCEEDED":
		return StateFailed
	case "CANCELLED":
		return StateCancelled
	default:
		return StateRunning
	}
}

// GetWorkflowStatus reads the status row for workflowUUID.
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var (
		info               WorkflowStatusInfo
		createdAt, updated int64
	)
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&createdAt,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	info.CreatedAt = time.UnixMilli(createdAt).UTC()
	info.UpdatedAt = time.UnixMilli(updated).UTC()
	return &info, nil
}

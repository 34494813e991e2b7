package workflows

import "errors"

var (
	// ErrWorkflowNotFound is returned when no workflow is registered for a job.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRequest is returned when the request is invalid.
	ErrInvalidRequest = errors.New("invalid workflow request")

	// ErrAsyncUnavailable is returned by RunAsync without a DBOS runtime.
	ErrAsyncUnavailable = errors.New("DBOS runtime not initialized")
)

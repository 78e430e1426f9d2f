package client

import "github.com/ngnhng/hellodurable/sdk/internal"

var (
	// ErrWorkflowNotFound is returned for ids without history.
	ErrWorkflowNotFound = internal.ErrWorkflowNotFound

	// ErrWorkflowAlreadyStarted is returned when starting an id that already has history.
	ErrWorkflowAlreadyStarted = internal.ErrWorkflowAlreadyStarted

	ErrClientClosed = internal.ErrClientClosed
)

// WorkflowExecutionError is returned by WorkflowRun.Get for instances that
// failed or were cancelled. It unwraps to the decoded cause, so
// errors.Is(err, workflow.ErrActivityTimeout) works on it.
type WorkflowExecutionError = internal.WorkflowExecutionError

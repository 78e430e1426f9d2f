package worker

import (
	"context"

	"github.com/ngnhng/hellodurable/sdk/client"
	"github.com/ngnhng/hellodurable/sdk/internal"
)

// Worker executes the workflows and activities registered on it.
type Worker interface {
	Registry
	// Start begins polling and returns immediately.
	Start() error
	// Run starts the worker and blocks until ctx ends or a fatal dispatch
	// error stops it.
	Run(ctx context.Context) error
	// Stop stops polling and drains in-flight tasks for the configured grace period.
	Stop()
	// Done is closed once the worker has fully stopped.
	Done() <-chan struct{}
	// Healthy reports nil while the worker is polling.
	Healthy() error
}

// Registry combines workflow and activity registration interfaces.
type Registry interface {
	WorkflowRegistry
	ActivityRegistry
}

// WorkflowRegistry registers workflow functions of the form
// func(workflow.Context, ...args) (result, error).
type WorkflowRegistry = internal.WorkflowRegistry

// ActivityRegistry registers activity functions of the form
// func(context.Context, ...args) (result, error).
type ActivityRegistry = internal.ActivityRegistry

type (
	WorkflowRegisterOption = internal.WorkflowRegisterOption
	ActivityRegisterOption = internal.ActivityRegisterOption
)

// Options contains configuration for creating a new Worker.
type Options = internal.WorkerOptions

const (
	DefaultPollers                    = internal.DefaultPollers
	DefaultMaxConcurrentWorkflowTasks = internal.DefaultMaxConcurrentWorkflowTasks
	DefaultMaxConcurrentActivityTasks = internal.DefaultMaxConcurrentActivityTasks
	DefaultPollTimeout                = internal.DefaultPollTimeout
	DefaultStopTimeout                = internal.DefaultStopTimeout
	DefaultNondeterminismRetryDelay   = internal.DefaultNondeterminismRetryDelay
)

// NewWorker creates a worker polling options.TaskQueue through c's backend.
func NewWorker(c client.Client, options Options) (Worker, error) {
	w, err := internal.NewWorker(c, options)
	if err != nil {
		return nil, err
	}
	return w, nil
}

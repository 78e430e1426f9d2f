package workflow

import (
	"log/slog"

	"github.com/ngnhng/hellodurable/sdk/internal"
)

// Context is the workflow execution context.
//
// It embeds context.Context for values only: Done and Err never fire, since
// cancellation reaches workflow code through activity futures.
type Context = internal.Context

// Info is recorded metadata of the running instance.
type Info = internal.WorkflowInfo

// ExecuteActivity schedules activity with the ActivityOptions set on ctx.
// activity is the implementation function or its registered name.
func ExecuteActivity(ctx Context, activity any, args ...any) Future {
	return ctx.ExecuteActivity(activity, args...)
}

// GetInfo returns the recorded id, type, task queue and start time of the instance.
func GetInfo(ctx Context) Info {
	return internal.GetInfo(ctx)
}

// GetLogger returns a logger that stays silent while the workflow replays
// history, so every line is written once.
func GetLogger(ctx Context) *slog.Logger {
	return internal.GetLogger(ctx)
}

// IsReplaying reports whether the code is re-executing recorded history.
func IsReplaying(ctx Context) bool {
	return internal.IsReplaying(ctx)
}

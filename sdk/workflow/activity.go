package workflow

import (
	"github.com/ngnhng/hellodurable/sdk/internal"
)

// ActivityOptions configures how an activity is scheduled.
//
// Example:
//
//	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
//		ScheduleToCloseTimeout: 5 * time.Minute,
//		StartToCloseTimeout:    30 * time.Second,
//		RetryPolicy: &workflow.RetryPolicy{
//			InitialInterval:    time.Second,
//			BackoffCoefficient: 2.0,
//			MaximumAttempts:    3,
//		},
//	})
type ActivityOptions = internal.ActivityOptions

// RetryPolicy defines how activities are retried on failure.
//
// The delay before the retry after attempt n is
// min(InitialInterval * BackoffCoefficient^(n-1), MaximumInterval).
// Retries stop when:
//   - MaximumAttempts is reached (ActivityTransientFailure)
//   - the error is non-retryable (ActivityApplicationFailure)
//   - the next attempt would start after the schedule-to-close deadline (ActivityTimeout)
//
// Example:
//
//	RetryPolicy: &workflow.RetryPolicy{
//		InitialInterval:    time.Second,      // First retry after 1s
//		BackoffCoefficient: 2.0,              // Double delay each retry
//		MaximumInterval:    30 * time.Second, // Cap delay at 30s
//		MaximumAttempts:    5,                // Give up after 5 attempts
//		NonRetryableErrorTypes: []string{
//			"invalid input",  // Don't retry validation errors
//		},
//	}
type RetryPolicy = internal.RetryPolicy

// ActivityProxy schedules activities with one fixed set of options.
type ActivityProxy = internal.ActivityProxy

// NewActivityProxy returns a proxy whose calls all use opts.
func NewActivityProxy(opts ActivityOptions) *ActivityProxy {
	return internal.NewActivityProxy(opts)
}

// DefaultRetryPolicy is the policy used when ActivityOptions.RetryPolicy is nil.
func DefaultRetryPolicy() *RetryPolicy {
	return internal.DefaultRetryPolicy()
}

func WithActivityOptions(ctx Context, opts ActivityOptions) Context {
	return internal.WithActivityOptions(ctx, opts)
}

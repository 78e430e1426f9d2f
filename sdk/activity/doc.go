// Package activity provides types and utilities for writing activities.
//
// Activities are functions that perform non-deterministic operations such as:
//   - Database queries and updates
//   - External API calls
//   - File I/O operations
//   - Any operation with side effects
//
// # Writing Activities
//
// An activity is a regular Go function:
//
//	func MyActivity(ctx context.Context, input string) (string, error) {
//		// Activity logic here - can do I/O, API calls, etc.
//		result, err := externalAPI.Call(input)
//		if err != nil {
//			return "", err
//		}
//		return result, nil
//	}
//
// Activities should accept context.Context as their first parameter to support
// cancellation and timeouts.
//
// # Activity Registration
//
// Activities must be registered with a worker before they can be executed:
//
//	worker.RegisterActivity(MyActivity)
//
// # Calling Activities from Workflows
//
// Activities are called from workflows using workflow.ExecuteActivity:
//
//	var result string
//	err := workflow.ExecuteActivity(ctx, MyActivity, "input").Get(ctx, &result)
//
// # Activity Context
//
// The context.Context passed to an activity is cancelled when:
//   - the schedule-to-close deadline passes
//   - the per-attempt StartToCloseTimeout passes
//   - the workflow instance is cancelled
//   - the worker shuts down
//
// GetInfo returns the workflow id, sequence number and attempt of the run.
//
// # Error Handling
//
// Returned errors are retried according to the retry policy. Wrap an error
// with NewNonRetryableError, or list its message or type name in
// NonRetryableErrorTypes, to fail the invocation at once.
//
// # Best Practices
//
//   - Make activities idempotent: an attempt may run more than once
//   - Respect context cancellation
//   - Keep arguments and results serializable
package activity

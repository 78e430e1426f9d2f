// Package workflow provides the programming model for writing durable workflows.
//
// A workflow is a deterministic function that orchestrates activities. Its
// first parameter is a workflow.Context and it returns (result, error) or
// error:
//
//	func GetGreeting(ctx workflow.Context, name string) (string, error) {
//		ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
//			ScheduleToCloseTimeout: 10 * time.Second,
//		})
//		var greeting string
//		err := workflow.ExecuteActivity(ctx, ComposeGreeting, "Hello", name).Get(ctx, &greeting)
//		return greeting, err
//	}
//
// # Replay
//
// Every workflow task runs the function again from the start against the
// recorded history of the instance. Activity calls are matched to history by
// their position: the n-th call of a run is the n-th recorded invocation.
// A call that names a different activity than the one recorded at its
// position is reported as nondeterminism and the task is retried later.
//
// Workflow code must therefore be deterministic:
//   - no I/O, randomness or wall-clock reads (use GetInfo for recorded times)
//   - no goroutines or selects on channels
//   - no iteration over maps when the order decides which activity runs
//
// # Suspension
//
// ExecuteActivity never blocks. It returns a Future. Calling Get on a future
// whose activity has not finished suspends the workflow until the outcome is
// recorded; the code after it runs in a later workflow task. Several futures
// started before the first Get run in parallel.
//
// # Timeouts and retries
//
// ScheduleToCloseTimeout bounds an invocation across all attempts. When it
// runs out the future fails with an error matching ErrActivityTimeout.
// Failed attempts are retried with the RetryPolicy (DefaultRetryPolicy when
// nil) unless the error is non-retryable; see activity.NewNonRetryableError.
//
// # Cancellation
//
// A cancelled instance sees its pending activity futures fail with an error
// matching ErrCanceled. Returning such an error closes the instance as
// cancelled.
package workflow

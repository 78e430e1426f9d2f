package workflow

import (
	"github.com/ngnhng/hellodurable/sdk/internal"
)

var (
	// ErrActivityTimeout matches failures of invocations that exhausted
	// their schedule-to-close budget.
	ErrActivityTimeout = internal.ErrActivityTimeout

	// ErrActivityApplicationFailure matches activities that failed with a
	// non-retryable error.
	ErrActivityApplicationFailure = internal.ErrActivityApplicationFailure

	// ErrActivityTransientFailure matches activities that ran out of attempts.
	ErrActivityTransientFailure = internal.ErrActivityTransientFailure

	// ErrCanceled matches cancellation of the instance or of an invocation.
	ErrCanceled = internal.ErrCanceled

	ErrInvalidActivityOptions = internal.ErrInvalidActivityOptions

	// ErrNonDeterministic is reported when a replay diverges from history.
	ErrNonDeterministic = internal.ErrNonDeterministic
)

// ActivityError is returned by Future.Get for failed activities. Its Failure
// carries the kind, activity type, sequence number and attempt.
type ActivityError = internal.ActivityError

// CanceledError is the error a workflow returns to close as cancelled.
type CanceledError = internal.CanceledError

// PanicError carries a panic raised by workflow code.
type PanicError = internal.PanicError

func NewCanceledError(reason string) *CanceledError {
	return internal.NewCanceledError(reason)
}

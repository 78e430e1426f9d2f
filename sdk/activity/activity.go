package activity

import (
	"context"

	"github.com/ngnhng/hellodurable/sdk/internal"
)

// Info describes the attempt an activity runs in.
type Info = internal.ActivityInfo

// GetInfo returns the attempt metadata of ctx. It reports false outside an activity.
func GetInfo(ctx context.Context) (Info, bool) {
	return internal.GetActivityInfo(ctx)
}

// NonRetryableError marks an error that fails the activity without further attempts.
type NonRetryableError = internal.NonRetryableError

// NewNonRetryableError wraps err so the invocation fails immediately with
// ActivityApplicationFailure.
func NewNonRetryableError(err error) error {
	return internal.NewNonRetryableError(err)
}

func IsNonRetryable(err error) bool {
	return internal.IsNonRetryable(err)
}

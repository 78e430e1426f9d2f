// Copyright 2025 Nguyen Nhat Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ngnhng/hellodurable/api"
)

type activityOptionsKey struct{}

// ActivityOptionsKey is the workflow context key holding ActivityOptions.
var ActivityOptionsKey = activityOptionsKey{}

const (
	DefaultRetryInitialInterval    = time.Second
	DefaultRetryBackoffCoefficient = 2.0
	// DefaultRetryMaximumIntervalFactor caps the backoff at this multiple of the initial interval.
	DefaultRetryMaximumIntervalFactor = 100
	// DefaultRetryMaximumAttempts of zero leaves the schedule-to-close budget as the only bound.
	DefaultRetryMaximumAttempts = 0
)

type ActivityOptions struct {
	// TaskQueue the activity task is dispatched to. Defaults to the workflow's queue.
	TaskQueue string

	// ScheduleToCloseTimeout is the total time allowed from scheduling to the
	// terminal outcome, across all attempts. Required.
	ScheduleToCloseTimeout time.Duration

	// StartToCloseTimeout bounds a single attempt. An attempt that exceeds it
	// fails with a retryable error. Zero means bounded only by ScheduleToCloseTimeout.
	StartToCloseTimeout time.Duration

	// RetryPolicy applies to transient failures. Nil uses DefaultRetryPolicy.
	RetryPolicy *RetryPolicy
}

// RetryPolicy configures retries of transient activity failures.
//
// Backoff interval for the retry after attempt n is
// min(InitialInterval * BackoffCoefficient^(n-1), MaximumInterval).
// MaximumAttempts of zero means unlimited. NonRetryableErrorTypes holds error
// messages or Go type names such as "fs.PathError" that end retries immediately.
type RetryPolicy = api.RetryPolicy

// DefaultRetryPolicy returns the policy used when ActivityOptions.RetryPolicy is nil.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		InitialInterval:    DefaultRetryInitialInterval,
		BackoffCoefficient: DefaultRetryBackoffCoefficient,
		MaximumInterval:    DefaultRetryInitialInterval * DefaultRetryMaximumIntervalFactor,
		MaximumAttempts:    DefaultRetryMaximumAttempts,
	}
}

func (o ActivityOptions) validate() error {
	if o.ScheduleToCloseTimeout <= 0 {
		return fmt.Errorf("%w: ScheduleToCloseTimeout must be positive", ErrInvalidActivityOptions)
	}
	if o.StartToCloseTimeout < 0 {
		return fmt.Errorf("%w: StartToCloseTimeout must not be negative", ErrInvalidActivityOptions)
	}
	if p := o.RetryPolicy; p != nil {
		if p.BackoffCoefficient != 0 && p.BackoffCoefficient < 1 {
			return fmt.Errorf("%w: BackoffCoefficient must be 1 or larger", ErrInvalidActivityOptions)
		}
		if p.MaximumAttempts < 0 {
			return fmt.Errorf("%w: MaximumAttempts must not be negative", ErrInvalidActivityOptions)
		}
	}
	return nil
}

// normalizeRetryPolicy fills unset fields with defaults. The result is what
// gets recorded in history, so retries never depend on worker configuration.
func normalizeRetryPolicy(p *RetryPolicy) RetryPolicy {
	if p == nil {
		return *DefaultRetryPolicy()
	}
	out := *p
	out.NonRetryableErrorTypes = slices.Clone(p.NonRetryableErrorTypes)
	if out.InitialInterval <= 0 {
		out.InitialInterval = DefaultRetryInitialInterval
	}
	if out.BackoffCoefficient < 1 {
		out.BackoffCoefficient = DefaultRetryBackoffCoefficient
	}
	if out.MaximumInterval <= 0 {
		out.MaximumInterval = out.InitialInterval * DefaultRetryMaximumIntervalFactor
	}
	return out
}

// retryDelay is the backoff before the attempt following the given one.
func retryDelay(p RetryPolicy, attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt-1))
	if d > float64(p.MaximumInterval) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaximumInterval
	}
	return time.Duration(d)
}

// isNonRetryable reports whether err ends retries under policy p.
func isNonRetryable(p RetryPolicy, err error) bool {
	if IsNonRetryable(err) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	if len(p.NonRetryableErrorTypes) == 0 {
		return false
	}
	if slices.Contains(p.NonRetryableErrorTypes, err.Error()) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if slices.Contains(p.NonRetryableErrorTypes, errorTypeName(e)) {
			return true
		}
	}
	return false
}

func getActivityOptions(ctx Context) (ActivityOptions, bool) {
	val := ctx.Value(ActivityOptionsKey)
	if val == nil {
		return ActivityOptions{}, false
	}

	opts, ok := val.(ActivityOptions)
	if !ok {
		panic("ActivityOptions has wrong type in context.")
	}
	return opts, true
}

// WithActivityOptions returns a workflow context carrying opts.
func WithActivityOptions(ctx Context, opts ActivityOptions) Context {
	return ctx.WithValue(ActivityOptionsKey, opts)
}

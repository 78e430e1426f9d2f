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
	"reflect"

	"github.com/ngnhng/hellodurable/api"
)

var (
	// ErrAlreadyStarted is returned when registering on, or starting, a worker that already started.
	ErrAlreadyStarted = errors.New("worker already started")

	ErrWorkflowNotRegistered = errors.New("workflow not registered")
	ErrActivityNotRegistered = errors.New("activity not registered")
	ErrInvalidFunction       = errors.New("invalid function signature")
	ErrDuplicateRegistration = errors.New("duplicate registration")

	ErrWorkflowNotFound       = errors.New("workflow not found")
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	ErrInvalidActivityOptions = errors.New("invalid activity options")

	// ErrNonDeterministic marks a replay that diverged from recorded history.
	ErrNonDeterministic = errors.New("nondeterministic workflow")

	ErrCanceled                   = errors.New(string(api.FailureCancelled))
	ErrActivityTimeout            = errors.New(string(api.FailureActivityTimeout))
	ErrActivityApplicationFailure = errors.New(string(api.FailureActivityApplication))
	ErrActivityTransientFailure   = errors.New(string(api.FailureActivityTransient))
	ErrWorkflowTaskDispatch       = errors.New(string(api.FailureWorkflowTaskDispatch))

	errHistoryConflict = errors.New("history version conflict")
)

// errorBlockingFuture unwinds workflow code at a suspension point.
type errorBlockingFuture struct{}

func (e errorBlockingFuture) Error() string {
	return "blocking_future"
}

// RegistrationError reports why a workflow or activity could not be registered.
type RegistrationError struct {
	Kind string
	Name string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// TaskDispatchError is the fatal error raised for tasks the worker cannot serve:
// unregistered types or malformed payloads.
type TaskDispatchError struct {
	TaskID   string
	Kind     api.TaskKind
	TypeName string
	Reason   string
	Err      error
}

func NewTaskDispatchError(taskID string, kind api.TaskKind, typeName, reason string, err error) *TaskDispatchError {
	return &TaskDispatchError{TaskID: taskID, Kind: kind, TypeName: typeName, Reason: reason, Err: err}
}

func (e *TaskDispatchError) Error() string {
	msg := fmt.Sprintf("%s: %s task %q", api.FailureWorkflowTaskDispatch, e.Kind, e.TaskID)
	if e.TypeName != "" {
		msg += fmt.Sprintf(" (type %s)", e.TypeName)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TaskDispatchError) Unwrap() error { return e.Err }

func (e *TaskDispatchError) Is(target error) bool { return target == ErrWorkflowTaskDispatch }

// ActivityError is what workflow code receives from a failed activity future.
// errors.Is matches the sentinel of its kind (ErrActivityTimeout, ErrCanceled, ...).
type ActivityError struct {
	Failure api.Failure
}

func (e *ActivityError) Error() string { return e.Failure.Error() }

func (e *ActivityError) Kind() api.FailureKind { return e.Failure.Kind }

func (e *ActivityError) Is(target error) bool {
	return target == kindSentinel(e.Failure.Kind)
}

// CanceledError reports cancellation of a workflow instance.
type CanceledError struct {
	Reason string
}

func NewCanceledError(reason string) *CanceledError {
	return &CanceledError{Reason: reason}
}

func (e *CanceledError) Error() string {
	if e.Reason == "" {
		return "canceled"
	}
	return "canceled: " + e.Reason
}

func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }

// NonRetryableError marks an activity error that must not be retried.
type NonRetryableError struct {
	Err error
}

// NewNonRetryableError wraps err so the activity fails without further attempts.
func NewNonRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable reports whether err is, or wraps, a NonRetryableError.
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}

// PanicError carries a recovered panic value from workflow or activity code.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ApplicationError is the decoded form of an error returned by workflow code.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string { return e.Message }

type nondeterminismError struct {
	seq      int
	recorded string
	replayed string
}

func (e *nondeterminismError) Error() string {
	return fmt.Sprintf("%v: call %d replayed as %s but history recorded %s", ErrNonDeterministic, e.seq, e.replayed, e.recorded)
}

func (e *nondeterminismError) Is(target error) bool { return target == ErrNonDeterministic }

// WorkflowExecutionError is returned to starters for instances that closed
// without a result.
type WorkflowExecutionError struct {
	WorkflowID string
	Status     api.WorkflowStatus
	Failure    api.Failure
	cause      error
}

func newWorkflowExecutionError(id api.WorkflowID, status api.WorkflowStatus, f api.Failure) *WorkflowExecutionError {
	return &WorkflowExecutionError{
		WorkflowID: string(id),
		Status:     status,
		Failure:    f,
		cause:      failureToError(f),
	}
}

func (e *WorkflowExecutionError) Error() string {
	return fmt.Sprintf("workflow %s %s: %v", e.WorkflowID, e.Status, e.cause)
}

func (e *WorkflowExecutionError) Unwrap() error { return e.cause }

func kindSentinel(kind api.FailureKind) error {
	switch kind {
	case api.FailureActivityTimeout:
		return ErrActivityTimeout
	case api.FailureActivityApplication:
		return ErrActivityApplicationFailure
	case api.FailureActivityTransient:
		return ErrActivityTransientFailure
	case api.FailureCancelled:
		return ErrCanceled
	case api.FailureWorkflowTaskDispatch:
		return ErrWorkflowTaskDispatch
	default:
		return nil
	}
}

// failureToError rebuilds a typed error from its recorded form.
func failureToError(f api.Failure) error {
	switch f.Kind {
	case api.FailureActivityTimeout, api.FailureActivityApplication, api.FailureActivityTransient:
		return &ActivityError{Failure: f}
	case api.FailureCancelled:
		if f.ActivityType != "" {
			return &ActivityError{Failure: f}
		}
		return &CanceledError{Reason: f.Message}
	case api.FailureWorkflowPanic:
		return &PanicError{Value: f.Message}
	default:
		return &ApplicationError{Message: f.Message}
	}
}

// errorToFailure turns the error a workflow returned into its recorded form.
// Activity failures keep their kind so starters can tell a timeout from an
// application error.
func errorToFailure(err error) api.Failure {
	var (
		actErr    *ActivityError
		cancelErr *CanceledError
		panicErr  *PanicError
	)
	switch {
	case errors.As(err, &actErr):
		return actErr.Failure
	case errors.As(err, &cancelErr):
		return api.Failure{Kind: api.FailureCancelled, Message: cancelErr.Reason}
	case errors.As(err, &panicErr):
		return api.Failure{Kind: api.FailureWorkflowPanic, Message: fmt.Sprint(panicErr.Value)}
	default:
		return api.Failure{Kind: api.FailureWorkflowApplication, Message: err.Error()}
	}
}

// errorTypeName returns the dynamic type name used to match NonRetryableErrorTypes.
func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

package worker

import "github.com/ngnhng/hellodurable/sdk/internal"

var (
	// ErrAlreadyStarted is returned when registering on, or starting, a running worker.
	ErrAlreadyStarted = internal.ErrAlreadyStarted

	ErrWorkflowNotRegistered = internal.ErrWorkflowNotRegistered
	ErrActivityNotRegistered = internal.ErrActivityNotRegistered

	// ErrInvalidFunction is returned for functions without a supported signature.
	ErrInvalidFunction = internal.ErrInvalidFunction

	ErrDuplicateRegistration = internal.ErrDuplicateRegistration

	// ErrWorkflowTaskDispatch matches the fatal error a worker stops with.
	ErrWorkflowTaskDispatch = internal.ErrWorkflowTaskDispatch
)

// RegistrationError reports why a function could not be registered.
type RegistrationError = internal.RegistrationError

// TaskDispatchError is the fatal error for tasks naming unregistered types or
// carrying malformed payloads.
type TaskDispatchError = internal.TaskDispatchError

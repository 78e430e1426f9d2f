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

package api

import "fmt"

// FailureKind classifies a terminal failure recorded in history.
type FailureKind string

const (
	// FailureActivityTimeout means the schedule-to-close budget was exhausted.
	FailureActivityTimeout FailureKind = "ActivityTimeout"
	// FailureActivityApplication means the activity raised a non-retryable error.
	FailureActivityApplication FailureKind = "ActivityApplicationFailure"
	// FailureActivityTransient means retries ran out on a retryable error.
	FailureActivityTransient FailureKind = "ActivityTransientFailure"
	// FailureWorkflowTaskDispatch means a task named an unregistered type or was malformed.
	FailureWorkflowTaskDispatch FailureKind = "WorkflowTaskDispatchError"
	// FailureCancelled means cancellation reached the invocation or workflow.
	FailureCancelled FailureKind = "Cancelled"
	// FailureWorkflowApplication is an error returned by workflow code itself.
	FailureWorkflowApplication FailureKind = "WorkflowApplicationFailure"
	// FailureWorkflowPanic is a panic raised by workflow code.
	FailureWorkflowPanic FailureKind = "WorkflowPanic"
)

// Failure is the serializable form of a terminal error.
type Failure struct {
	Kind         FailureKind `json:"kind"`
	Message      string      `json:"message"`
	ActivityType string      `json:"activity_type,omitempty"`
	Seq          int         `json:"seq,omitempty"`
	Attempt      int32       `json:"attempt,omitempty"`
}

func (f *Failure) Error() string {
	if f.ActivityType != "" {
		return fmt.Sprintf("%s: activity %s (seq %d, attempt %d): %s", f.Kind, f.ActivityType, f.Seq, f.Attempt, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

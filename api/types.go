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

import (
	"fmt"
	"time"
)

// TaskQueueName identifies a logical work channel. Starters and workers agree
// on it out-of-band.
type TaskQueueName string

func (q TaskQueueName) String() string { return string(q) }

type TaskKind string

const (
	WorkflowTaskKind        TaskKind = "workflow"
	ActivityTaskKind        TaskKind = "activity"
	ActivityTimeoutTaskKind TaskKind = "timeout"
)

type (
	Task interface {
		TaskID() string
		Kind() TaskKind
		isTask()
	}

	// WorkflowTask asks a worker to advance a workflow instance by replaying
	// its history.
	WorkflowTask struct {
		ID           string     `json:"id"`
		WorkflowID   WorkflowID `json:"wf_id"`
		WorkflowType string     `json:"wf_type"`
	}

	// ActivityTask asks a worker to run one attempt of a scheduled activity.
	ActivityTask struct {
		ID           string     `json:"id"`
		WorkflowID   WorkflowID `json:"wf_id"`
		Seq          int        `json:"seq"`
		ActivityType string     `json:"ac_type"`
		Attempt      int32      `json:"attempt"`
	}

	// ActivityTimeoutTask fires when the schedule-to-close budget of an
	// invocation runs out.
	ActivityTimeoutTask struct {
		ID           string     `json:"id"`
		WorkflowID   WorkflowID `json:"wf_id"`
		Seq          int        `json:"seq"`
		ActivityType string     `json:"ac_type"`
	}
)

func (t *WorkflowTask) TaskID() string        { return t.ID }
func (t *ActivityTask) TaskID() string        { return t.ID }
func (t *ActivityTimeoutTask) TaskID() string { return t.ID }

func (t *WorkflowTask) Kind() TaskKind        { return WorkflowTaskKind }
func (t *ActivityTask) Kind() TaskKind        { return ActivityTaskKind }
func (t *ActivityTimeoutTask) Kind() TaskKind { return ActivityTimeoutTaskKind }

func (t *WorkflowTask) isTask()        {}
func (t *ActivityTask) isTask()        {}
func (t *ActivityTimeoutTask) isTask() {}

// NewWorkflowTask builds a workflow task whose id is derived from the history
// version it was issued for, so repeated issues for the same transition collapse.
func NewWorkflowTask(id WorkflowID, workflowType string, historyVersion uint64) *WorkflowTask {
	return &WorkflowTask{
		ID:           fmt.Sprintf("%s/wt/%d", id, historyVersion),
		WorkflowID:   id,
		WorkflowType: workflowType,
	}
}

func NewActivityTask(id WorkflowID, seq int, activityType string, attempt int32) *ActivityTask {
	return &ActivityTask{
		ID:           fmt.Sprintf("%s/ac/%d/%d", id, seq, attempt),
		WorkflowID:   id,
		Seq:          seq,
		ActivityType: activityType,
		Attempt:      attempt,
	}
}

func NewActivityTimeoutTask(id WorkflowID, seq int, activityType string) *ActivityTimeoutTask {
	return &ActivityTimeoutTask{
		ID:           fmt.Sprintf("%s/to/%d", id, seq),
		WorkflowID:   id,
		Seq:          seq,
		ActivityType: activityType,
	}
}

// NewTask returns an empty task of the given kind, ready to be decoded into.
func NewTask(kind TaskKind) (Task, error) {
	switch kind {
	case WorkflowTaskKind:
		return new(WorkflowTask), nil
	case ActivityTaskKind:
		return new(ActivityTask), nil
	case ActivityTimeoutTaskKind:
		return new(ActivityTimeoutTask), nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
}

// RetryPolicy is the retry configuration recorded with every scheduled activity.
type RetryPolicy struct {
	InitialInterval        time.Duration `json:"initial_interval"`
	BackoffCoefficient     float64       `json:"backoff_coefficient"`
	MaximumInterval        time.Duration `json:"maximum_interval"`
	MaximumAttempts        int32         `json:"maximum_attempts"`
	NonRetryableErrorTypes []string      `json:"non_retryable_error_types,omitempty"`
}

type WorkflowStatus string

const (
	WorkflowStatusUnknown   WorkflowStatus = ""
	WorkflowStatusRunning   WorkflowStatus = "Running"
	WorkflowStatusCompleted WorkflowStatus = "Completed"
	WorkflowStatusFailed    WorkflowStatus = "Failed"
	WorkflowStatusCancelled WorkflowStatus = "Cancelled"
)

// Closed reports whether the status is terminal.
func (s WorkflowStatus) Closed() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusCancelled
}

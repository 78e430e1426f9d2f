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
	"time"

	"github.com/DeluxeOwl/chronicle/event"
)

type WorkflowID string

func (w WorkflowID) String() string { return string(w) }

type WorkflowEvent interface {
	event.Any

	isWorkflowEvent()
}

var _ WorkflowEvent = (*WorkflowStarted)(nil)
var _ WorkflowEvent = (*ActivityScheduled)(nil)
var _ WorkflowEvent = (*ActivityRetried)(nil)
var _ WorkflowEvent = (*ActivityCompleted)(nil)
var _ WorkflowEvent = (*ActivityFailed)(nil)
var _ WorkflowEvent = (*WorkflowCancelRequested)(nil)
var _ WorkflowEvent = (*WorkflowCompleted)(nil)
var _ WorkflowEvent = (*WorkflowFailed)(nil)
var _ WorkflowEvent = (*WorkflowCancelled)(nil)

// -- Workflow Started Event --
type WorkflowStarted struct {
	ID WorkflowID `json:"id"`

	WorkflowType string        `json:"type"`
	TaskQueue    TaskQueueName `json:"task_queue"`
	Input        []any         `json:"input"`
	StartedAt    time.Time     `json:"started_at"`
}

func (*WorkflowStarted) EventName() string { return "workflow/started" }
func (*WorkflowStarted) isWorkflowEvent()  {}

// -- Activity Scheduled Event --
type ActivityScheduled struct {
	Seq          int           `json:"seq"`
	ActivityType string        `json:"type"`
	TaskQueue    TaskQueueName `json:"task_queue"`
	Input        []any         `json:"input"`

	ScheduledAt            time.Time     `json:"scheduled_at"`
	ScheduleToCloseTimeout time.Duration `json:"schedule_to_close"`
	StartToCloseTimeout    time.Duration `json:"start_to_close,omitempty"`
	RetryPolicy            RetryPolicy   `json:"retry_policy"`
}

func (*ActivityScheduled) EventName() string { return "activity/scheduled" }
func (*ActivityScheduled) isWorkflowEvent()  {}

// -- Activity Retried Event --
// Informational: the invocation stays pending.
type ActivityRetried struct {
	Seq           int       `json:"seq"`
	Attempt       int32     `json:"attempt"`
	Error         string    `json:"error"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

func (*ActivityRetried) EventName() string { return "activity/retried" }
func (*ActivityRetried) isWorkflowEvent()  {}

// -- Activity Completed Event --
type ActivityCompleted struct {
	Seq     int   `json:"seq"`
	Attempt int32 `json:"attempt"`
	Result  any   `json:"result"`
}

func (*ActivityCompleted) EventName() string { return "activity/completed" }
func (*ActivityCompleted) isWorkflowEvent()  {}

// -- Activity Failed Event --
type ActivityFailed struct {
	Seq     int     `json:"seq"`
	Attempt int32   `json:"attempt"`
	Failure Failure `json:"failure"`
}

func (*ActivityFailed) EventName() string { return "activity/failed" }
func (*ActivityFailed) isWorkflowEvent()  {}

// -- Workflow Cancel Requested --
type WorkflowCancelRequested struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

func (*WorkflowCancelRequested) EventName() string { return "workflow/cancel_requested" }
func (*WorkflowCancelRequested) isWorkflowEvent()  {}

// -- Workflow Completed --
type WorkflowCompleted struct {
	Result any `json:"result"`
}

func (*WorkflowCompleted) EventName() string { return "workflow/completed" }
func (*WorkflowCompleted) isWorkflowEvent()  {}

// -- Workflow Failed --
type WorkflowFailed struct {
	Failure Failure `json:"failure"`
}

func (*WorkflowFailed) EventName() string { return "workflow/failed" }
func (*WorkflowFailed) isWorkflowEvent()  {}

// -- Workflow Cancelled --
type WorkflowCancelled struct {
	Reason string `json:"reason"`
}

func (*WorkflowCancelled) EventName() string { return "workflow/cancelled" }
func (*WorkflowCancelled) isWorkflowEvent()  {}

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
	"context"
	"time"

	"github.com/ngnhng/hellodurable/api"
)

// TaskQueue is the durable, multi-consumer channel workers lease tasks from.
// Delivery is at least once; Enqueue drops repeats of a task id seen within
// the backend's deduplication window.
type TaskQueue interface {
	// Poll leases the next visible task of one of kinds, waiting up to wait.
	// It returns a nil token when nothing became visible in time.
	Poll(ctx context.Context, queue api.TaskQueueName, kinds []api.TaskKind, wait time.Duration) (*TaskToken, error)
	// Enqueue makes task visible on queue after delay.
	Enqueue(ctx context.Context, queue api.TaskQueueName, task api.Task, delay time.Duration) error
}

// TaskToken is the lease on one delivered task.
type TaskToken struct {
	Task  api.Task
	Queue api.TaskQueueName

	// Malformed is set instead of Task when the payload could not be decoded.
	Malformed error
	// Delivery counts how many times the task has been handed out, starting at 1.
	Delivery uint64

	complete   func(context.Context) error
	fail       func(context.Context, time.Duration) error
	terminate  func(context.Context) error
	inProgress func(context.Context) error
}

// Complete acknowledges the task; it will not be delivered again.
func (t *TaskToken) Complete(ctx context.Context) error { return t.complete(ctx) }

// Fail returns the task to the queue, visible again after delay.
func (t *TaskToken) Fail(ctx context.Context, delay time.Duration) error { return t.fail(ctx, delay) }

// Terminate drops the task without redelivery.
func (t *TaskToken) Terminate(ctx context.Context) error { return t.terminate(ctx) }

// InProgress extends the lease while the task is still being worked on.
func (t *TaskToken) InProgress(ctx context.Context) error {
	if t.inProgress == nil {
		return nil
	}
	return t.inProgress(ctx)
}

func (t *TaskToken) taskID() string {
	if t.Task == nil {
		return ""
	}
	return t.Task.TaskID()
}

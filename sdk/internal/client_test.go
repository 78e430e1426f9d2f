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
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ngnhng/hellodurable/api"
)

func TestClient_ExecuteWorkflow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	opts := StartWorkflowOptions{ID: "order-1", TaskQueue: string(testQueue)}

	run, err := c.ExecuteWorkflow(ctx, opts, twoStepWorkflow, "Hello")
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if run.ID() != "order-1" {
		t.Errorf("ID() = %s", run.ID())
	}

	d := describeWorkflow(t, c, "order-1")
	if d.Status != api.WorkflowStatusRunning || d.TaskQueue != testQueue || d.HistoryVersion != 1 {
		t.Errorf("description = %+v", d)
	}
	if d.WorkflowType != "github.com/ngnhng/hellodurable/sdk/internal.twoStepWorkflow" {
		t.Errorf("workflow type = %s", d.WorkflowType)
	}

	q := c.backend().queue
	tok, err := q.Poll(ctx, testQueue, workflowKinds, time.Second)
	if err != nil || tok == nil {
		t.Fatalf("first workflow task not enqueued: %v", err)
	}
	if wt, ok := tok.Task.(*api.WorkflowTask); !ok || wt.WorkflowID != "order-1" {
		t.Errorf("task = %#v", tok.Task)
	}

	// same start again: the first task is already queued, nothing new appears
	if _, err := c.ExecuteWorkflow(ctx, opts, twoStepWorkflow, "again"); err != nil {
		t.Errorf("repeated ExecuteWorkflow() error = %v", err)
	}
	if tok, err := q.Poll(ctx, testQueue, workflowKinds, 20*time.Millisecond); err != nil || tok != nil {
		t.Errorf("repeated start queued %#v, %v", tok, err)
	}

	if _, err := c.ExecuteWorkflow(ctx, opts, "OtherFlow"); !errors.Is(err, ErrWorkflowAlreadyStarted) {
		t.Errorf("ExecuteWorkflow(other type) error = %v, want %v", err, ErrWorkflowAlreadyStarted)
	}
	if err := c.CancelWorkflow(ctx, "order-1", "stop"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ExecuteWorkflow(ctx, opts, twoStepWorkflow); !errors.Is(err, ErrWorkflowAlreadyStarted) {
		t.Errorf("ExecuteWorkflow() after progress error = %v, want %v", err, ErrWorkflowAlreadyStarted)
	}
}

// unreachableQueue rejects every enqueue.
type unreachableQueue struct {
	TaskQueue
}

func (unreachableQueue) Enqueue(context.Context, api.TaskQueueName, api.Task, time.Duration) error {
	return errors.New("publish: nats: timeout")
}

func TestClient_ExecuteWorkflowResumesUnscheduledStart(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	b := c.backend()
	q := b.queue
	opts := StartWorkflowOptions{ID: "orphan", TaskQueue: string(testQueue)}

	b.queue = unreachableQueue{TaskQueue: q}
	if _, err := c.ExecuteWorkflow(ctx, opts, twoStepWorkflow, "x"); err == nil {
		t.Fatal("ExecuteWorkflow() succeeded with an unreachable queue")
	}
	b.queue = q

	run, err := c.ExecuteWorkflow(ctx, opts, twoStepWorkflow, "x")
	if err != nil {
		t.Fatalf("retried ExecuteWorkflow() error = %v", err)
	}
	if run.ID() != "orphan" {
		t.Errorf("ID() = %s", run.ID())
	}
	tok, err := q.Poll(ctx, testQueue, workflowKinds, time.Second)
	if err != nil || tok == nil {
		t.Fatalf("first workflow task not enqueued: %v", err)
	}
	if wt, ok := tok.Task.(*api.WorkflowTask); !ok || wt.ID != "orphan/wt/1" {
		t.Errorf("task = %#v", tok.Task)
	}
}

func TestClient_ExecuteWorkflowValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if _, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{}, twoStepWorkflow); err == nil {
		t.Error("ExecuteWorkflow() without task queue succeeded")
	}
	if _, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{TaskQueue: "q"}, 42); !errors.Is(err, ErrInvalidFunction) {
		t.Errorf("ExecuteWorkflow(42) error = %v, want %v", err, ErrInvalidFunction)
	}

	run, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{TaskQueue: "q"}, "Flow")
	if err != nil {
		t.Fatal(err)
	}
	id, err := uuid.FromString(string(run.ID()))
	if err != nil || id.Version() != uuid.V7 {
		t.Errorf("generated id %s is not a UUIDv7: %v", run.ID(), err)
	}
}

func TestClient_UnknownWorkflow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if _, err := c.DescribeWorkflow(ctx, "nope"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("DescribeWorkflow() error = %v, want %v", err, ErrWorkflowNotFound)
	}
	if err := c.GetWorkflow("nope").Get(ctx, nil); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrWorkflowNotFound)
	}
	if err := c.CancelWorkflow(ctx, "nope", "x"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("CancelWorkflow() error = %v, want %v", err, ErrWorkflowNotFound)
	}
}

func TestClient_GetHonoursContext(t *testing.T) {
	c := newTestClient(t)
	run, err := c.ExecuteWorkflow(context.Background(), StartWorkflowOptions{TaskQueue: "idle"}, "Flow")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := run.Get(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestClient_CancelRecordsRequestOnce(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	if _, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{ID: "c-1", TaskQueue: "idle"}, "Flow"); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := c.CancelWorkflow(ctx, "c-1", "operator"); err != nil {
			t.Fatalf("CancelWorkflow() error = %v", err)
		}
	}
	d := describeWorkflow(t, c, "c-1")
	if !d.CancelRequested || d.HistoryVersion != 2 {
		t.Errorf("description = %+v, want one cancel request recorded", d)
	}
}

func TestClient_Closed(t *testing.T) {
	c := newTestClient(t)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ExecuteWorkflow(context.Background(), StartWorkflowOptions{TaskQueue: "q"}, "Flow"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("ExecuteWorkflow() error = %v, want %v", err, ErrClientClosed)
	}
	if err := c.CancelWorkflow(context.Background(), "x", ""); !errors.Is(err, ErrClientClosed) {
		t.Errorf("CancelWorkflow() error = %v, want %v", err, ErrClientClosed)
	}
}

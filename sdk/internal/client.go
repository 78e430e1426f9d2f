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
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DeluxeOwl/chronicle/event"
	"github.com/DeluxeOwl/chronicle/eventlog"
	"github.com/avast/retry-go/v4"
	"github.com/gofrs/uuid/v5"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/api/serde"
)

const (
	cancelAttempts = 5
	cancelDelay    = 20 * time.Millisecond
)

// ErrClientClosed is returned by operations on a closed client.
var ErrClientClosed = errors.New("client closed")

var _ Client = (*clientImpl)(nil)

type (
	Client interface {
		// ExecuteWorkflow records the start of a workflow instance and
		// schedules its first workflow task.
		ExecuteWorkflow(ctx context.Context, options StartWorkflowOptions, workflow any, args ...any) (WorkflowRun, error)
		// GetWorkflow returns a handle to an existing instance.
		GetWorkflow(id api.WorkflowID) WorkflowRun
		// CancelWorkflow requests cancellation. Closed instances are left as they are.
		CancelWorkflow(ctx context.Context, id api.WorkflowID, reason string) error
		DescribeWorkflow(ctx context.Context, id api.WorkflowID) (*WorkflowDescription, error)
		Close() error

		backend() *backend
	}

	ClientOptions struct {
		Namespace string
		// Conn selects the JetStream task queue and history log. Nil keeps
		// both in process memory.
		Conn *nats.Conn
		// HistoryLog overrides the history backend, e.g. a Pebble log.
		HistoryLog event.Log
		// Serde encodes history events and task payloads. Defaults to msgpack.
		Serde  serde.BinarySerde
		Logger *slog.Logger
	}

	StartWorkflowOptions struct {
		// ID of the instance. Empty gets a UUIDv7.
		ID        string
		TaskQueue string
	}
)

// backend bundles the collaborators shared by a client and its workers.
type backend struct {
	namespace string
	conn      *Conn
	queue     TaskQueue
	history   *historyStore
	closes    closeNotifier
	serde     serde.BinarySerde
	conv      *serde.TypeConverter
	logger    *slog.Logger
	now       func() time.Time
}

type clientImpl struct {
	b      *backend
	closed atomic.Bool
}

func NewClient(options *ClientOptions) (Client, error) {
	if options == nil {
		options = &ClientOptions{}
	}
	logger := defaultLogger(options.Logger)
	s := options.Serde
	if s == nil {
		s = serde.Default()
	}
	namespace := strings.TrimSpace(options.Namespace)
	if namespace == "" {
		namespace = api.DefaultNamespace
	}

	b := &backend{
		namespace: namespace,
		serde:     s,
		conv:      serde.NewTypeConverter(s),
		logger:    logger,
		now:       time.Now,
	}

	log := options.HistoryLog
	if options.Conn != nil {
		conn, err := wrapExisting(options.Conn, namespace, logger)
		if err != nil {
			return nil, err
		}
		b.conn = conn
		b.queue = newNATSTaskQueue(conn, s, jetstream.FileStorage)
		b.closes = newKVCloseNotifier(conn)
		if log == nil {
			log = newJetStreamHistoryLog(conn, s, jetstream.FileStorage)
		}
	} else {
		b.queue = NewMemoryTaskQueue()
		b.closes = newMemoryCloseNotifier()
		if log == nil {
			log = eventlog.NewMemory()
		}
	}

	history, err := newHistoryStore(log, s)
	if err != nil {
		return nil, err
	}
	b.history = history

	return &clientImpl{b: b}, nil
}

func (c *clientImpl) backend() *backend { return c.b }

func (c *clientImpl) ExecuteWorkflow(ctx context.Context, options StartWorkflowOptions, workflow any, args ...any) (WorkflowRun, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	name, err := resolveTypeName(workflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFunction, err)
	}
	if options.TaskQueue == "" {
		return nil, errors.New("start workflow: task queue is required")
	}

	id := api.WorkflowID(options.ID)
	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate workflow id: %w", err)
		}
		id = api.WorkflowID(u.String())
	}

	if prev, err := c.b.history.load(ctx, id); err == nil {
		if !orphanedStart(prev, name, api.TaskQueueName(options.TaskQueue)) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowAlreadyStarted, id)
		}
		// a start whose first task never reached the queue; the task id is
		// deterministic so the queue drops it if it did arrive
		if err := c.enqueueFirstTask(ctx, prev); err != nil {
			return nil, err
		}
		c.b.logger.Info("workflow start resumed", "workflow_id", id, "workflow_type", name, "task_queue", options.TaskQueue)
		return newWorkflowRun(c.b, id), nil
	} else if !errors.Is(err, ErrWorkflowNotFound) {
		return nil, err
	}

	st := newWorkflowState()
	if err := st.recordThat(&api.WorkflowStarted{
		ID:           id,
		WorkflowType: name,
		TaskQueue:    api.TaskQueueName(options.TaskQueue),
		Input:        args,
		StartedAt:    c.b.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("record workflow start: %w", err)
	}
	if _, err := c.b.history.save(ctx, st); err != nil {
		if errors.Is(err, errHistoryConflict) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowAlreadyStarted, id)
		}
		return nil, err
	}

	if err := c.enqueueFirstTask(ctx, st); err != nil {
		return nil, err
	}
	c.b.logger.Info("workflow started", "workflow_id", id, "workflow_type", name, "task_queue", options.TaskQueue)

	return newWorkflowRun(c.b, id), nil
}

// orphanedStart reports whether st holds nothing but the start of the same
// workflow type on the same queue.
func orphanedStart(st *workflowState, name string, queue api.TaskQueueName) bool {
	return st.Version() == 1 && st.status == api.WorkflowStatusRunning &&
		st.workflowType == name && st.taskQueue == queue
}

func (c *clientImpl) enqueueFirstTask(ctx context.Context, st *workflowState) error {
	task := api.NewWorkflowTask(st.id, st.workflowType, uint64(st.Version()))
	if err := c.b.queue.Enqueue(ctx, st.taskQueue, task, 0); err != nil {
		return fmt.Errorf("schedule first workflow task of %s: %w", st.id, err)
	}
	return nil
}

func (c *clientImpl) GetWorkflow(id api.WorkflowID) WorkflowRun {
	return newWorkflowRun(c.b, id)
}

func (c *clientImpl) CancelWorkflow(ctx context.Context, id api.WorkflowID, reason string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return retry.Do(
		func() error { return c.requestCancel(ctx, id, reason) },
		retry.Context(ctx),
		retry.Attempts(cancelAttempts),
		retry.Delay(cancelDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errHistoryConflict) }),
	)
}

func (c *clientImpl) requestCancel(ctx context.Context, id api.WorkflowID, reason string) error {
	st, err := c.b.history.load(ctx, id)
	if err != nil {
		return err
	}
	if st.closed() {
		c.b.logger.Debug("cancel ignored, workflow already closed", "workflow_id", id, "status", st.status)
		return nil
	}
	if !st.cancelRequested {
		if err := st.recordThat(&api.WorkflowCancelRequested{Reason: reason, RequestedAt: c.b.now().UTC()}); err != nil {
			return fmt.Errorf("record cancel request: %w", err)
		}
	}
	v, err := c.b.history.save(ctx, st)
	if err != nil {
		return err
	}
	task := api.NewWorkflowTask(id, st.workflowType, uint64(v))
	if err := c.b.queue.Enqueue(ctx, st.taskQueue, task, 0); err != nil {
		return fmt.Errorf("schedule cancellation of %s: %w", id, err)
	}
	c.b.logger.Info("workflow cancel requested", "workflow_id", id, "reason", reason)
	return nil
}

func (c *clientImpl) DescribeWorkflow(ctx context.Context, id api.WorkflowID) (*WorkflowDescription, error) {
	st, err := c.b.history.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return describe(st), nil
}

// Close marks the client closed. The NATS connection stays owned by the caller.
func (c *clientImpl) Close() error {
	c.closed.Store(true)
	return nil
}

// WorkflowDescription is a snapshot of an instance built from its history.
type WorkflowDescription struct {
	ID              api.WorkflowID        `json:"id"`
	WorkflowType    string                `json:"workflow_type"`
	TaskQueue       api.TaskQueueName     `json:"task_queue"`
	Status          api.WorkflowStatus    `json:"status"`
	StartedAt       time.Time             `json:"started_at"`
	CancelRequested bool                  `json:"cancel_requested,omitempty"`
	Result          any                   `json:"result,omitempty"`
	Failure         *api.Failure          `json:"failure,omitempty"`
	HistoryVersion  uint64                `json:"history_version"`
	Activities      []ActivityDescription `json:"activities"`
}

type ActivityDescription struct {
	Seq          int          `json:"seq"`
	ActivityType string       `json:"activity_type"`
	TaskQueue    string       `json:"task_queue"`
	Attempt      int32        `json:"attempt"`
	Resolved     bool         `json:"resolved"`
	LastError    string       `json:"last_error,omitempty"`
	Failure      *api.Failure `json:"failure,omitempty"`
}

func describe(st *workflowState) *WorkflowDescription {
	d := &WorkflowDescription{
		ID:              st.id,
		WorkflowType:    st.workflowType,
		TaskQueue:       st.taskQueue,
		Status:          st.status,
		StartedAt:       st.startedAt,
		CancelRequested: st.cancelRequested,
		Result:          st.result,
		Failure:         st.failure,
		HistoryVersion:  uint64(st.Version()),
		Activities:      make([]ActivityDescription, 0, len(st.invocations)),
	}
	for _, inv := range st.invocations {
		d.Activities = append(d.Activities, ActivityDescription{
			Seq:          inv.scheduled.Seq,
			ActivityType: inv.scheduled.ActivityType,
			TaskQueue:    string(inv.scheduled.TaskQueue),
			Attempt:      inv.attempt,
			Resolved:     inv.resolved,
			LastError:    inv.lastError,
			Failure:      inv.failure,
		})
	}
	return d
}

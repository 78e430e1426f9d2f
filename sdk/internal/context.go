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
	"fmt"
	"log/slog"
	"time"

	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/api/serde"
)

// Context is the workflow execution context.
//
// It never reports cancellation through Done or Err: a cancelled instance
// observes cancellation through the futures of its activity calls, which keeps
// every replay of the same history identical.
type Context interface {
	context.Context
	ExecuteActivity(activity any, args ...any) Future
	ID() api.WorkflowID
	WithValue(key any, value any) Context

	replayer() *replayer
}

var _ Context = (*workflowContext)(nil)

// WorkflowInfo is recorded instance metadata, safe to read from workflow code.
type WorkflowInfo struct {
	WorkflowID   api.WorkflowID
	WorkflowType string
	TaskQueue    api.TaskQueueName
	StartedAt    time.Time
}

type workflowContext struct {
	context.Context
	r *replayer
}

// replayer is the per-task execution state shared by every context derived
// from the root workflow context.
type replayer struct {
	state *workflowState
	conv  *serde.TypeConverter

	// now stamps invocations scheduled during this task.
	now time.Time

	// cursor is the seq of the last proxy call made by workflow code.
	cursor int
	// loaded is the number of invocations present before this task.
	loaded int

	scheduled []*invocation
	logger    *slog.Logger
}

func newReplayer(st *workflowState, conv *serde.TypeConverter, now time.Time, logger *slog.Logger) *replayer {
	r := &replayer{
		state:  st,
		conv:   conv,
		now:    now,
		loaded: len(st.invocations),
	}
	r.logger = slog.New(&replayAwareHandler{
		inner:     defaultLogger(logger).Handler(),
		replaying: r.isReplaying,
	}).With("workflow_id", st.id, "workflow_type", st.workflowType)
	return r
}

// isReplaying reports whether workflow code is still re-executing calls that
// were recorded before the current task.
func (r *replayer) isReplaying() bool {
	return r.cursor < r.loaded
}

func newWorkflowContext(r *replayer) *workflowContext {
	return &workflowContext{Context: context.Background(), r: r}
}

func (c *workflowContext) replayer() *replayer { return c.r }

func (c *workflowContext) ID() api.WorkflowID { return c.r.state.id }

func (c *workflowContext) WithValue(key any, value any) Context {
	return &workflowContext{
		Context: context.WithValue(c.Context, key, value),
		r:       c.r,
	}
}

// ExecuteActivity schedules activity with the ActivityOptions carried by the
// context. The call is matched against recorded history by its position among
// all activity calls of the instance.
func (c *workflowContext) ExecuteActivity(activity any, args ...any) Future {
	opts, ok := getActivityOptions(c)
	if !ok {
		return newFailedFuture(fmt.Errorf("%w: no activity options on context", ErrInvalidActivityOptions))
	}
	return c.r.schedule(activity, opts, args)
}

func (r *replayer) schedule(activity any, opts ActivityOptions, args []any) Future {
	name, err := resolveTypeName(activity)
	if err != nil {
		return newFailedFuture(fmt.Errorf("%w: %v", ErrInvalidFunction, err))
	}
	if err := opts.validate(); err != nil {
		return newFailedFuture(err)
	}

	seq := r.cursor + 1
	if inv, ok := r.state.invocation(seq); ok {
		if inv.scheduled.ActivityType != name {
			panic(&nondeterminismError{seq: seq, recorded: inv.scheduled.ActivityType, replayed: name})
		}
		r.cursor = seq
		return &activityFuture{inv: inv, conv: r.conv}
	}

	if r.state.cancelRequested {
		return newFailedFuture(&ActivityError{Failure: api.Failure{
			Kind:         api.FailureCancelled,
			Message:      r.state.cancelReason,
			ActivityType: name,
		}})
	}

	queue := api.TaskQueueName(opts.TaskQueue)
	if queue == "" {
		queue = r.state.taskQueue
	}
	evt := &api.ActivityScheduled{
		Seq:                    seq,
		ActivityType:           name,
		TaskQueue:              queue,
		Input:                  args,
		ScheduledAt:            r.now,
		ScheduleToCloseTimeout: opts.ScheduleToCloseTimeout,
		StartToCloseTimeout:    opts.StartToCloseTimeout,
		RetryPolicy:            normalizeRetryPolicy(opts.RetryPolicy),
	}
	if err := r.state.recordThat(evt); err != nil {
		// recording should never fail during workflow execution; surface loudly if it does
		panic(fmt.Errorf("record activity scheduled event: %w", err))
	}
	r.cursor = seq

	inv, _ := r.state.invocation(seq)
	r.scheduled = append(r.scheduled, inv)
	r.logger.Debug("activity scheduled", "activity_type", name, "seq", seq, "task_queue", queue)
	return &activityFuture{inv: inv, conv: r.conv}
}

// GetInfo returns the recorded metadata of the running instance.
func GetInfo(ctx Context) WorkflowInfo {
	st := ctx.replayer().state
	return WorkflowInfo{
		WorkflowID:   st.id,
		WorkflowType: st.workflowType,
		TaskQueue:    st.taskQueue,
		StartedAt:    st.startedAt,
	}
}

// GetLogger returns a logger that drops records while workflow code replays
// already recorded history.
func GetLogger(ctx Context) *slog.Logger {
	return ctx.replayer().logger
}

// IsReplaying reports whether workflow code is re-executing recorded history.
func IsReplaying(ctx Context) bool {
	return ctx.replayer().isReplaying()
}

// ActivityProxy schedules activities with a fixed set of options, so every
// call made through it shares one schedule-to-close timeout.
type ActivityProxy struct {
	opts ActivityOptions
}

func NewActivityProxy(opts ActivityOptions) *ActivityProxy {
	return &ActivityProxy{opts: opts}
}

// Execute schedules activity and returns its future. It suspends nothing by
// itself; the workflow suspends when it calls Get on an unresolved future.
func (p *ActivityProxy) Execute(ctx Context, activity any, args ...any) Future {
	return ctx.replayer().schedule(activity, p.opts, args)
}

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
	"time"

	"github.com/ngnhng/hellodurable/api"
)

// handleWorkflowTask replays the instance, records what the run produced and
// dispatches the invocations it is waiting on.
func (w *Worker) handleWorkflowTask(ctx context.Context, task *api.WorkflowTask) error {
	start := time.Now()
	defer func() { w.metrics.workflowTaskLatency.Observe(time.Since(start).Seconds()) }()

	unlock, err := w.locks.lock(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := w.b.history.load(ctx, task.WorkflowID)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return fmt.Errorf("%w: %v", errStaleTask, err)
		}
		return err
	}
	if st.closed() {
		return fmt.Errorf("%w: workflow %s already %s", errStaleTask, st.id, st.status)
	}

	fn, err := w.workflows.get(st.workflowType)
	if err != nil {
		return NewTaskDispatchError(task.ID, task.Kind(), st.workflowType, "workflow type is not registered on this worker", ErrWorkflowNotRegistered)
	}

	logger := w.logger.With("workflow_id", st.id, "workflow_type", st.workflowType)
	now := w.now().UTC()

	var cancelled []int
	if st.cancelRequested {
		for _, inv := range st.pending() {
			evt := inv.scheduled
			if err := st.recordThat(&api.ActivityFailed{
				Seq:     evt.Seq,
				Attempt: inv.attempt,
				Failure: api.Failure{
					Kind:         api.FailureCancelled,
					Message:      st.cancelReason,
					ActivityType: evt.ActivityType,
					Seq:          evt.Seq,
					Attempt:      inv.attempt,
				},
			}); err != nil {
				return fmt.Errorf("record cancellation of activity %d: %w", evt.Seq, err)
			}
			cancelled = append(cancelled, evt.Seq)
		}
	}

	r := newReplayer(st, w.b.conv, now, logger)
	out, err := runWorkflow(r, fn)
	if err != nil {
		return err
	}
	if !out.suspended {
		if err := st.recordThat(closingEvent(st, out)); err != nil {
			return fmt.Errorf("record workflow close: %w", err)
		}
	}

	if _, err := w.b.history.save(ctx, st); err != nil {
		return err
	}
	for _, seq := range cancelled {
		w.attempts.cancel(st.id, seq, ErrCanceled)
	}

	if st.closed() {
		logger.Info("workflow closed", "status", st.status)
		if err := w.b.closes.publishClosed(ctx, st.id, st.status); err != nil {
			logger.Warn("failed to announce workflow close", "error", err)
		}
		return nil
	}

	if len(r.scheduled) > 0 {
		logger.Debug("workflow suspended", "new_activities", len(r.scheduled))
	}
	return w.dispatch(ctx, st, now)
}

// handleTimeoutTask resolves an invocation whose schedule-to-close budget ran out.
func (w *Worker) handleTimeoutTask(ctx context.Context, task *api.ActivityTimeoutTask) error {
	unlock, err := w.locks.lock(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := w.b.history.load(ctx, task.WorkflowID)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return fmt.Errorf("%w: %v", errStaleTask, err)
		}
		return err
	}
	inv, ok := st.invocation(task.Seq)
	if !ok {
		return fmt.Errorf("%w: activity %d of %s was never scheduled", errStaleTask, task.Seq, st.id)
	}
	if st.closed() || inv.resolved {
		return w.staleResolved(ctx, st, task.Seq)
	}

	now := w.now()
	if left := remaining(now, inv.deadline()); left > 0 {
		return &retryLaterError{delay: left, reason: "timeout not due yet"}
	}
	return w.resolveTimeout(ctx, st, inv, "schedule-to-close timeout exceeded")
}

// resolveTimeout records ActivityTimeout for inv, stops local attempts and
// wakes the workflow. Callers hold the instance lock.
func (w *Worker) resolveTimeout(ctx context.Context, st *workflowState, inv *invocation, reason string) error {
	evt := inv.scheduled
	if err := st.recordThat(&api.ActivityFailed{
		Seq:     evt.Seq,
		Attempt: inv.attempt,
		Failure: api.Failure{
			Kind:         api.FailureActivityTimeout,
			Message:      fmt.Sprintf("%s (%s)", reason, evt.ScheduleToCloseTimeout),
			ActivityType: evt.ActivityType,
			Seq:          evt.Seq,
			Attempt:      inv.attempt,
		},
	}); err != nil {
		return fmt.Errorf("record activity timeout: %w", err)
	}
	v, err := w.b.history.save(ctx, st)
	if err != nil {
		return err
	}

	w.attempts.cancel(st.id, evt.Seq, ErrActivityTimeout)
	w.metrics.activityTimeouts.WithLabelValues(evt.ActivityType).Inc()
	w.logger.Warn("activity timed out",
		"workflow_id", st.id, "activity_type", evt.ActivityType, "seq", evt.Seq, "attempt", inv.attempt)
	return w.wake(ctx, st, uint64(v))
}

// staleResolved completes a task for an invocation that already has its
// outcome. The workflow task for the current version is enqueued again in
// case the one issued with the outcome was lost; the queue drops the repeat.
func (w *Worker) staleResolved(ctx context.Context, st *workflowState, seq int) error {
	if !st.closed() {
		if err := w.wake(ctx, st, uint64(st.Version())); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: activity %d of %s already resolved", errStaleTask, seq, st.id)
}

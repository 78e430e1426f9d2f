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
	"reflect"
	"runtime/debug"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ngnhng/hellodurable/api"
)

const (
	recordAttempts = 5
	recordDelay    = 20 * time.Millisecond
)

// handleActivityTask runs one attempt of an invocation and records its
// outcome. The implementation runs without holding the instance lock.
func (w *Worker) handleActivityTask(ctx context.Context, task *api.ActivityTask) error {
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
	if inv.attempt != task.Attempt {
		return w.staleAttempt(ctx, st, inv, task.Attempt)
	}

	evt := inv.scheduled
	fn, err := w.activities.get(evt.ActivityType)
	if err != nil {
		return NewTaskDispatchError(task.ID, task.Kind(), evt.ActivityType, "activity type is not registered on this worker", ErrActivityNotRegistered)
	}

	now := w.now()
	deadline := inv.deadline()
	if !now.Before(deadline) {
		return w.recordTimeout(ctx, task)
	}
	if wait := remaining(now, inv.nextAttemptAt); wait > 0 {
		return &retryLaterError{delay: wait, reason: "attempt not due yet"}
	}

	key := attemptKey{workflowID: st.id, seq: evt.Seq, attempt: inv.attempt}
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if !w.attempts.add(key, cancel) {
		return fmt.Errorf("%w: attempt %s is already running here", errStaleTask, key)
	}
	defer w.attempts.remove(key)

	attemptCtx, cancelDeadline := context.WithDeadline(attemptCtx, deadline)
	defer cancelDeadline()
	if evt.StartToCloseTimeout > 0 {
		var cancelAttempt context.CancelFunc
		attemptCtx, cancelAttempt = context.WithTimeout(attemptCtx, evt.StartToCloseTimeout)
		defer cancelAttempt()
	}
	attemptCtx = withActivityInfo(attemptCtx, ActivityInfo{
		WorkflowID:   st.id,
		ActivityType: evt.ActivityType,
		TaskQueue:    evt.TaskQueue,
		Seq:          evt.Seq,
		Attempt:      inv.attempt,
		ScheduledAt:  evt.ScheduledAt,
		Deadline:     deadline,
	})

	logger := w.logger.With("workflow_id", st.id, "activity_type", evt.ActivityType, "seq", evt.Seq, "attempt", inv.attempt)
	logger.Debug("activity attempt started")
	w.metrics.activityAttempts.WithLabelValues(evt.ActivityType).Inc()

	start := time.Now()
	result, execErr := w.executeActivity(attemptCtx, fn, evt.Input)
	w.metrics.activityLatency.WithLabelValues(evt.ActivityType).Observe(time.Since(start).Seconds())

	if execErr != nil && ctx.Err() != nil {
		// the worker is shutting down; leave the attempt to another delivery
		return ctx.Err()
	}
	if cause := context.Cause(attemptCtx); errors.Is(cause, ErrCanceled) || errors.Is(cause, ErrActivityTimeout) {
		logger.Debug("attempt stopped after its invocation resolved", "cause", cause)
		return fmt.Errorf("%w: invocation resolved while attempt ran", errStaleTask)
	}

	return retry.Do(
		func() error { return w.recordOutcome(ctx, task, result, execErr) },
		retry.Context(ctx),
		retry.Attempts(recordAttempts),
		retry.Delay(recordDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errHistoryConflict) }),
	)
}

// staleAttempt completes a superseded attempt. The current attempt is
// enqueued again in case its task was lost; the queue drops the repeat.
func (w *Worker) staleAttempt(ctx context.Context, st *workflowState, inv *invocation, attempt int32) error {
	evt := inv.scheduled
	if inv.attempt > attempt {
		task := api.NewActivityTask(st.id, evt.Seq, evt.ActivityType, inv.attempt)
		if err := w.b.queue.Enqueue(ctx, evt.TaskQueue, task, remaining(w.now(), inv.nextAttemptAt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: attempt %d of activity %d superseded by attempt %d", errStaleTask, attempt, evt.Seq, inv.attempt)
}

func (w *Worker) recordTimeout(ctx context.Context, task *api.ActivityTask) error {
	unlock, err := w.locks.lock(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := w.b.history.load(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	inv, ok := st.invocation(task.Seq)
	if !ok || st.closed() || inv.resolved {
		return w.staleResolved(ctx, st, task.Seq)
	}
	return w.resolveTimeout(ctx, st, inv, "schedule-to-close timeout exceeded")
}

// recordOutcome applies the retry policy to one attempt's outcome. Results of
// attempts whose invocation was resolved meanwhile are discarded.
func (w *Worker) recordOutcome(ctx context.Context, task *api.ActivityTask, result any, execErr error) error {
	unlock, err := w.locks.lock(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := w.b.history.load(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	inv, ok := st.invocation(task.Seq)
	if !ok || st.closed() || inv.resolved || inv.attempt != task.Attempt {
		w.logger.Debug("discarding late activity outcome", "workflow_id", task.WorkflowID, "seq", task.Seq, "attempt", task.Attempt)
		return fmt.Errorf("%w: outcome of attempt %d arrived after resolution", errStaleTask, task.Attempt)
	}

	evt := inv.scheduled
	logger := w.logger.With("workflow_id", st.id, "activity_type", evt.ActivityType, "seq", evt.Seq, "attempt", inv.attempt)
	if execErr == nil {
		if err := st.recordThat(&api.ActivityCompleted{Seq: evt.Seq, Attempt: inv.attempt, Result: result}); err != nil {
			return fmt.Errorf("record activity completion: %w", err)
		}
		v, err := w.b.history.save(ctx, st)
		if err != nil {
			return err
		}
		logger.Debug("activity completed")
		return w.wake(ctx, st, uint64(v))
	}

	now := w.now()
	policy := evt.RetryPolicy
	failure := api.Failure{Message: execErr.Error(), ActivityType: evt.ActivityType, Seq: evt.Seq, Attempt: inv.attempt}

	switch {
	case !now.Before(inv.deadline()):
		return w.resolveTimeout(ctx, st, inv, "schedule-to-close timeout exceeded")
	case isNonRetryable(policy, execErr):
		failure.Kind = api.FailureActivityApplication
	case policy.MaximumAttempts > 0 && inv.attempt >= policy.MaximumAttempts:
		failure.Kind = api.FailureActivityTransient
		failure.Message = fmt.Sprintf("maximum attempts (%d) reached: %s", policy.MaximumAttempts, execErr)
	default:
		next := now.Add(retryDelay(policy, inv.attempt))
		if !next.Before(inv.deadline()) {
			return w.resolveTimeout(ctx, st, inv, "next retry would exceed the schedule-to-close timeout")
		}
		return w.recordRetry(ctx, st, inv, execErr, next)
	}

	if err := st.recordThat(&api.ActivityFailed{Seq: evt.Seq, Attempt: inv.attempt, Failure: failure}); err != nil {
		return fmt.Errorf("record activity failure: %w", err)
	}
	v, err := w.b.history.save(ctx, st)
	if err != nil {
		return err
	}
	logger.Warn("activity failed", "kind", failure.Kind, "error", execErr)
	return w.wake(ctx, st, uint64(v))
}

func (w *Worker) recordRetry(ctx context.Context, st *workflowState, inv *invocation, execErr error, next time.Time) error {
	evt := inv.scheduled
	failed := inv.attempt
	if err := st.recordThat(&api.ActivityRetried{
		Seq:           evt.Seq,
		Attempt:       failed,
		Error:         execErr.Error(),
		NextAttemptAt: next,
	}); err != nil {
		return fmt.Errorf("record activity retry: %w", err)
	}
	if _, err := w.b.history.save(ctx, st); err != nil {
		return err
	}
	w.metrics.activityRetries.WithLabelValues(evt.ActivityType).Inc()
	w.logger.Info("activity attempt failed, retrying",
		"workflow_id", st.id, "activity_type", evt.ActivityType, "seq", evt.Seq,
		"attempt", failed, "next_attempt_at", next, "error", execErr)

	task := api.NewActivityTask(st.id, evt.Seq, evt.ActivityType, inv.attempt)
	if err := w.b.queue.Enqueue(ctx, evt.TaskQueue, task, remaining(w.now(), next)); err != nil {
		return fmt.Errorf("schedule activity %d attempt %d: %w", evt.Seq, inv.attempt, err)
	}
	return nil
}

// executeActivity calls the implementation with decoded arguments. Panics
// become retryable PanicErrors; undecodable arguments are not retryable.
func (w *Worker) executeActivity(ctx context.Context, fn *registeredFunc, input []any) (result any, err error) {
	args, err := w.b.conv.ConvertArgs(fn.fnType, 1, input)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode activity input: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			result, err = nil, &PanicError{Value: p, Stack: string(debug.Stack())}
		}
	}()

	results := fn.fn.Call(append([]reflect.Value{reflect.ValueOf(ctx)}, args...))
	return splitResults(results)
}

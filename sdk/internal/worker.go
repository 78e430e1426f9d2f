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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ngnhng/hellodurable/api"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPollers                    = 2
	DefaultMaxConcurrentWorkflowTasks = 10
	DefaultMaxConcurrentActivityTasks = 20
	DefaultPollTimeout                = 5 * time.Second
	DefaultStopTimeout                = 10 * time.Second
	DefaultNondeterminismRetryDelay   = 30 * time.Second

	pollBackoffInitial = 100 * time.Millisecond
	pollBackoffMax     = 10 * time.Second

	conflictRetryDelay = 50 * time.Millisecond
	failureRetryMax    = time.Minute
	settleTimeout      = 5 * time.Second
	heartbeatInterval  = DefaultLeaseTimeout / 3
)

type (
	WorkerOptions struct {
		// TaskQueue the worker polls. Required.
		TaskQueue string

		// Pollers per kind group. Defaults to DefaultPollers.
		Pollers int

		MaxConcurrentWorkflowTasks int
		MaxConcurrentActivityTasks int

		// PollTimeout bounds a single long poll.
		PollTimeout time.Duration

		// StopTimeout is the grace period Stop gives in-flight tasks.
		StopTimeout time.Duration

		// NondeterminismRetryDelay is how long a workflow task whose replay
		// diverged from history waits before it is tried again.
		NondeterminismRetryDelay time.Duration

		Logger            *slog.Logger
		MetricsRegisterer prometheus.Registerer

		// OnFatalError is called once with the dispatch error that stopped the worker.
		OnFatalError func(error)
	}

	// WorkflowRegisterOption overrides the registered type name, which
	// defaults to the fully-qualified function name.
	WorkflowRegisterOption struct {
		Name string
	}

	ActivityRegisterOption struct {
		Name string
	}

	WorkflowRegistry interface {
		RegisterWorkflow(w any, options ...WorkflowRegisterOption) error
	}

	ActivityRegistry interface {
		RegisterActivity(a any, options ...ActivityRegisterOption) error
	}
)

var (
	_ WorkflowRegistry = (*Worker)(nil)
	_ ActivityRegistry = (*Worker)(nil)
)

// pollGroup is a set of task kinds sharing pollers and execution slots.
type pollGroup struct {
	name  string
	kinds []api.TaskKind
	slots *semaphore.Weighted
}

// Worker polls one task queue and serves the workflows and activities
// registered on it.
type Worker struct {
	b       *backend
	queue   api.TaskQueueName
	opts    WorkerOptions
	logger  *slog.Logger
	metrics *workerMetrics
	now     func() time.Time

	workflows  *hashMapRegistry
	activities *hashMapRegistry

	locks    *instanceLocks
	attempts *attemptRegistry

	mu         sync.Mutex
	started    bool
	pollCancel context.CancelFunc
	taskCtx    context.Context
	taskCancel context.CancelFunc
	pollers    errgroup.Group
	inflight   errgroup.Group
	done       chan struct{}
	stopOnce   sync.Once

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  error
}

func NewWorker(c Client, opts WorkerOptions) (*Worker, error) {
	if c == nil {
		return nil, errors.New("worker requires a client")
	}
	opts.TaskQueue = strings.TrimSpace(opts.TaskQueue)
	if opts.TaskQueue == "" {
		return nil, errors.New("worker requires a task queue")
	}
	if opts.Pollers <= 0 {
		opts.Pollers = DefaultPollers
	}
	if opts.MaxConcurrentWorkflowTasks <= 0 {
		opts.MaxConcurrentWorkflowTasks = DefaultMaxConcurrentWorkflowTasks
	}
	if opts.MaxConcurrentActivityTasks <= 0 {
		opts.MaxConcurrentActivityTasks = DefaultMaxConcurrentActivityTasks
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.NondeterminismRetryDelay <= 0 {
		opts.NondeterminismRetryDelay = DefaultNondeterminismRetryDelay
	}

	b := c.backend()
	logger := opts.Logger
	if logger == nil {
		logger = b.logger
	}
	logger = defaultLogger(logger).With("task_queue", opts.TaskQueue)

	return &Worker{
		b:          b,
		queue:      api.TaskQueueName(opts.TaskQueue),
		opts:       opts,
		logger:     logger,
		metrics:    newWorkerMetrics(opts.MetricsRegisterer),
		now:        b.now,
		workflows:  newWorkflowRegistry(),
		activities: newActivityRegistry(),
		locks:      newInstanceLocks(),
		attempts:   newAttemptRegistry(),
		done:       make(chan struct{}),
		fatal:      make(chan struct{}),
	}, nil
}

func (w *Worker) isStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) RegisterWorkflow(fn any, options ...WorkflowRegisterOption) error {
	name, err := registeredName(fn, options, func(o WorkflowRegisterOption) string { return o.Name })
	if err != nil {
		return &RegistrationError{Kind: "workflow", Name: name, Err: err}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return &RegistrationError{Kind: "workflow", Name: name, Err: ErrAlreadyStarted}
	}
	return w.workflows.set(name, fn)
}

func (w *Worker) RegisterActivity(fn any, options ...ActivityRegisterOption) error {
	name, err := registeredName(fn, options, func(o ActivityRegisterOption) string { return o.Name })
	if err != nil {
		return &RegistrationError{Kind: "activity", Name: name, Err: err}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return &RegistrationError{Kind: "activity", Name: name, Err: ErrAlreadyStarted}
	}
	return w.activities.set(name, fn)
}

func registeredName[O any](fn any, options []O, nameOf func(O) string) (string, error) {
	for i := len(options) - 1; i >= 0; i-- {
		if n := nameOf(options[i]); n != "" {
			return n, nil
		}
	}
	name, err := extractFullFunctionName(fn)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFunction, err)
	}
	return name, nil
}

// Start begins polling and returns immediately.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}

	var groups []*pollGroup
	if w.workflows.size() > 0 {
		groups = append(groups, &pollGroup{
			name:  "workflow",
			kinds: []api.TaskKind{api.WorkflowTaskKind, api.ActivityTimeoutTaskKind},
			slots: semaphore.NewWeighted(int64(w.opts.MaxConcurrentWorkflowTasks)),
		})
	}
	if w.activities.size() > 0 {
		groups = append(groups, &pollGroup{
			name:  "activity",
			kinds: []api.TaskKind{api.ActivityTaskKind},
			slots: semaphore.NewWeighted(int64(w.opts.MaxConcurrentActivityTasks)),
		})
	}
	if len(groups) == 0 {
		return errors.New("worker has no registered workflows or activities")
	}
	w.started = true

	pollCtx, pollCancel := context.WithCancel(context.Background())
	w.pollCancel = pollCancel
	w.taskCtx, w.taskCancel = context.WithCancel(context.Background())

	for _, g := range groups {
		for range w.opts.Pollers {
			w.pollers.Go(func() error {
				w.pollLoop(pollCtx, g)
				return nil
			})
		}
	}
	go func() {
		_ = w.pollers.Wait()
		_ = w.inflight.Wait()
		close(w.done)
	}()

	w.logger.Info("worker started",
		"workflows", w.workflows.names(),
		"activities", w.activities.names(),
		"pollers", w.opts.Pollers,
	)
	return nil
}

// Run starts the worker and blocks until ctx ends or a fatal dispatch error
// stops it. Ending ctx is a clean shutdown and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		w.Stop()
		return nil
	case <-w.fatal:
		w.Stop()
		return w.fatalErr
	}
}

// Stop stops polling and waits up to StopTimeout for in-flight tasks, then
// cancels the ones still running. Their leases expire and the tasks are
// delivered again.
func (w *Worker) Stop() {
	if !w.isStarted() {
		return
	}
	w.stopOnce.Do(func() {
		w.pollCancel()
		timer := time.NewTimer(w.opts.StopTimeout)
		defer timer.Stop()
		select {
		case <-w.done:
		case <-timer.C:
			w.logger.Warn("stop timeout reached, abandoning in-flight tasks", "timeout", w.opts.StopTimeout)
		}
		w.taskCancel()
		w.logger.Info("worker stopped")
	})
}

// Done is closed once polling stopped and in-flight tasks finished.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Healthy reports nil while the worker is polling.
func (w *Worker) Healthy() error {
	if !w.isStarted() {
		return errors.New("worker not started")
	}
	select {
	case <-w.fatal:
		return w.fatalErr
	default:
	}
	select {
	case <-w.done:
		return errors.New("worker stopped")
	default:
		return nil
	}
}

func (w *Worker) pollLoop(ctx context.Context, g *pollGroup) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pollBackoffInitial
	bo.MaxInterval = pollBackoffMax
	bo.Reset()

	for {
		if err := g.slots.Acquire(ctx, 1); err != nil {
			return
		}
		token, err := w.b.queue.Poll(ctx, w.queue, g.kinds, w.opts.PollTimeout)
		if err != nil {
			g.slots.Release(1)
			if ctx.Err() != nil {
				return
			}
			w.metrics.polls.WithLabelValues(string(w.queue), g.name, "error").Inc()
			delay := bo.NextBackOff()
			w.logger.Warn("poll failed, backing off", "group", g.name, "backoff", delay, "error", err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		bo.Reset()
		if token == nil {
			g.slots.Release(1)
			w.metrics.polls.WithLabelValues(string(w.queue), g.name, "empty").Inc()
			if ctx.Err() != nil {
				return
			}
			continue
		}

		w.metrics.polls.WithLabelValues(string(w.queue), g.name, "task").Inc()
		w.inflight.Go(func() error {
			defer g.slots.Release(1)
			w.handle(token)
			return nil
		})
	}
}

var (
	// errStaleTask marks a task that no longer applies to its instance.
	errStaleTask = errors.New("stale task")
)

// retryLaterError asks for the task to be delivered again after delay.
type retryLaterError struct {
	delay  time.Duration
	reason string
}

func (e *retryLaterError) Error() string {
	return fmt.Sprintf("retry in %s: %s", e.delay, e.reason)
}

func (w *Worker) handle(token *TaskToken) {
	ctx := w.taskCtx
	if token.Malformed != nil {
		err := NewTaskDispatchError("", "", "", "malformed task payload", token.Malformed)
		w.settle(ctx, token, "", err)
		return
	}

	kind := token.Task.Kind()
	gauge := w.metrics.inflight.WithLabelValues(string(w.queue), string(kind))
	gauge.Inc()
	defer gauge.Dec()

	stopHeartbeat := w.heartbeat(ctx, token)
	defer stopHeartbeat()

	var err error
	switch t := token.Task.(type) {
	case *api.WorkflowTask:
		err = w.handleWorkflowTask(ctx, t)
	case *api.ActivityTask:
		err = w.handleActivityTask(ctx, t)
	case *api.ActivityTimeoutTask:
		err = w.handleTimeoutTask(ctx, t)
	default:
		err = NewTaskDispatchError(token.taskID(), kind, "", "unsupported task kind", nil)
	}
	w.settle(ctx, token, kind, err)
}

// heartbeat extends the lease of token until the returned func is called.
func (w *Worker) heartbeat(ctx context.Context, token *TaskToken) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := token.InProgress(hbCtx); err != nil {
					w.logger.Debug("lease extension failed", "task_id", token.taskID(), "error", err)
				}
			}
		}
	}()
	return cancel
}

// settle acknowledges token according to the outcome of its handler.
func (w *Worker) settle(ctx context.Context, token *TaskToken, kind api.TaskKind, err error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	outcome := "completed"
	var (
		settleErr  error
		dispatch   *TaskDispatchError
		retryLater *retryLaterError
	)
	switch {
	case err == nil:
		settleErr = token.Complete(sctx)
	case errors.Is(err, errStaleTask):
		outcome = "noop"
		w.logger.Debug("stale task completed without effect", "task_id", token.taskID(), "reason", err)
		settleErr = token.Complete(sctx)
	case errors.As(err, &dispatch):
		outcome = "dispatch_error"
		if token.Malformed != nil {
			settleErr = token.Terminate(sctx)
		} else {
			settleErr = token.Fail(sctx, w.opts.NondeterminismRetryDelay)
		}
		w.fail(dispatch)
	case errors.Is(err, ErrNonDeterministic):
		outcome = "nondeterministic"
		w.metrics.nondeterminism.Inc()
		w.logger.Error("workflow replay diverged from history, task will be retried",
			"task_id", token.taskID(), "retry_in", w.opts.NondeterminismRetryDelay, "error", err)
		settleErr = token.Fail(sctx, w.opts.NondeterminismRetryDelay)
	case errors.As(err, &retryLater):
		outcome = "deferred"
		settleErr = token.Fail(sctx, retryLater.delay)
	case errors.Is(err, errHistoryConflict):
		outcome = "conflict"
		w.logger.Debug("history changed concurrently, task will be retried", "task_id", token.taskID(), "error", err)
		settleErr = token.Fail(sctx, conflictRetryDelay)
	case ctx.Err() != nil:
		outcome = "abandoned"
		settleErr = token.Fail(sctx, 0)
	default:
		outcome = "failed"
		delay := min(time.Duration(token.Delivery)*time.Second, failureRetryMax)
		w.logger.Error("task failed, will be retried", "task_id", token.taskID(), "retry_in", delay, "error", err)
		settleErr = token.Fail(sctx, delay)
	}
	if settleErr != nil {
		w.logger.Warn("failed to settle task", "task_id", token.taskID(), "outcome", outcome, "error", settleErr)
	}
	w.metrics.taskOutcomes.WithLabelValues(string(w.queue), string(kind), outcome).Inc()
}

// fail reports a fatal dispatch error once and stops polling.
func (w *Worker) fail(err *TaskDispatchError) {
	w.metrics.fatalErrors.Inc()
	w.logger.Error("fatal task dispatch error, stopping worker", "error", err)
	w.fatalOnce.Do(func() {
		w.fatalErr = err
		close(w.fatal)
		if w.opts.OnFatalError != nil {
			w.opts.OnFatalError(err)
		}
		w.pollCancel()
	})
}

// dispatch enqueues the next attempt and the timeout of every pending
// invocation. Task ids are deterministic, so repeats are absorbed by the queue.
func (w *Worker) dispatch(ctx context.Context, st *workflowState, now time.Time) error {
	for _, inv := range st.pending() {
		evt := inv.scheduled
		timeout := api.NewActivityTimeoutTask(st.id, evt.Seq, evt.ActivityType)
		if err := w.b.queue.Enqueue(ctx, st.taskQueue, timeout, remaining(now, inv.deadline())); err != nil {
			return fmt.Errorf("schedule timeout of activity %d: %w", evt.Seq, err)
		}
		task := api.NewActivityTask(st.id, evt.Seq, evt.ActivityType, inv.attempt)
		if err := w.b.queue.Enqueue(ctx, evt.TaskQueue, task, remaining(now, inv.nextAttemptAt)); err != nil {
			return fmt.Errorf("schedule activity %d attempt %d: %w", evt.Seq, inv.attempt, err)
		}
	}
	return nil
}

// wake enqueues the workflow task for history version v of st.
func (w *Worker) wake(ctx context.Context, st *workflowState, v uint64) error {
	task := api.NewWorkflowTask(st.id, st.workflowType, v)
	if err := w.b.queue.Enqueue(ctx, st.taskQueue, task, 0); err != nil {
		return fmt.Errorf("schedule workflow task: %w", err)
	}
	return nil
}

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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ngnhng/hellodurable/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// activityCall parametrizes activityCallWorkflow.
type activityCall struct {
	Activity        string
	Input           string
	ScheduleToClose time.Duration
	StartToClose    time.Duration
	MaxAttempts     int32
}

func activityCallWorkflow(ctx Context, call activityCall) (string, error) {
	timeout := call.ScheduleToClose
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx = WithActivityOptions(ctx, ActivityOptions{
		ScheduleToCloseTimeout: timeout,
		StartToCloseTimeout:    call.StartToClose,
		RetryPolicy: &RetryPolicy{
			InitialInterval:    10 * time.Millisecond,
			BackoffCoefficient: 1,
			MaximumInterval:    10 * time.Millisecond,
			MaximumAttempts:    call.MaxAttempts,
		},
	})
	var out string
	err := ctx.ExecuteActivity(call.Activity, call.Input).Get(ctx, &out)
	return out, err
}

func blockingActivity(ctx context.Context, in string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func newTestClient(t *testing.T) Client {
	t.Helper()
	c, err := NewClient(nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestWorker(t *testing.T, c Client, opts WorkerOptions) *Worker {
	t.Helper()
	if opts.TaskQueue == "" {
		opts.TaskQueue = string(testQueue)
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 50 * time.Millisecond
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = time.Second
	}
	if opts.MetricsRegisterer == nil {
		opts.MetricsRegisterer = prometheus.NewRegistry()
	}
	w, err := NewWorker(c, opts)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	return w
}

// startWorker registers the activity call workflow plus activities under
// their map keys and starts polling.
func startWorker(t *testing.T, c Client, activities map[string]any) *Worker {
	t.Helper()
	w := newTestWorker(t, c, WorkerOptions{})
	if err := w.RegisterWorkflow(activityCallWorkflow); err != nil {
		t.Fatal(err)
	}
	for name, fn := range activities {
		if err := w.RegisterActivity(fn, ActivityRegisterOption{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func executeCall(t *testing.T, c Client, id string, call activityCall) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{ID: id, TaskQueue: string(testQueue)}, activityCallWorkflow, call)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	var out string
	err = run.Get(ctx, &out)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("workflow %s did not close in time", id)
	}
	return out, err
}

func describeWorkflow(t *testing.T, c Client, id string) *WorkflowDescription {
	t.Helper()
	d, err := c.DescribeWorkflow(context.Background(), api.WorkflowID(id))
	if err != nil {
		t.Fatalf("DescribeWorkflow(%s) error = %v", id, err)
	}
	return d
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorker_ExecutesWorkflow(t *testing.T) {
	c := newTestClient(t)
	w := newTestWorker(t, c, WorkerOptions{})
	for _, reg := range []error{
		w.RegisterWorkflow(twoStepWorkflow),
		w.RegisterActivity(upperActivity),
		w.RegisterActivity(lowerActivity),
	} {
		if reg != nil {
			t.Fatal(reg)
		}
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{ID: "two-step", TaskQueue: string(testQueue)}, twoStepWorkflow, "Hello")
	if err != nil {
		t.Fatal(err)
	}
	var out string
	if err := run.Get(ctx, &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if out != "hellox" {
		t.Errorf("result = %q, want %q", out, "hellox")
	}

	d := describeWorkflow(t, c, "two-step")
	if d.Status != api.WorkflowStatusCompleted {
		t.Errorf("status = %s, want Completed", d.Status)
	}
	if len(d.Activities) != 2 {
		t.Fatalf("activities = %+v, want 2", d.Activities)
	}
	for _, a := range d.Activities {
		if !a.Resolved || a.Attempt != 1 {
			t.Errorf("activity %d = %+v, want resolved on attempt 1", a.Seq, a)
		}
	}
}

func TestWorker_ActivityOutcomes(t *testing.T) {
	var flakyCalls atomic.Int32
	flaky := func(ctx context.Context, in string) (string, error) {
		if flakyCalls.Add(1) <= 2 {
			return "", errors.New("connection reset")
		}
		return "ok:" + in, nil
	}
	rejecting := func(ctx context.Context, in string) (string, error) {
		return "", NewNonRetryableError(fmt.Errorf("bad input %q", in))
	}
	failing := func(ctx context.Context, in string) (string, error) {
		return "", errors.New("always down")
	}
	panicking := func(ctx context.Context, in string) (string, error) {
		panic("boom")
	}
	slowFirst := func(ctx context.Context, in string) (string, error) {
		info, _ := GetActivityInfo(ctx)
		if info.Attempt == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return fmt.Sprintf("done on attempt %d", info.Attempt), nil
	}

	c := newTestClient(t)
	w := startWorker(t, c, map[string]any{
		"flaky":     flaky,
		"rejecting": rejecting,
		"failing":   failing,
		"panicking": panicking,
		"slowFirst": slowFirst,
		"blocking":  blockingActivity,
	})

	tests := []struct {
		name         string
		call         activityCall
		want         string
		wantErr      error
		wantAttempts int32
		wantRetries  float64
	}{
		{
			name:         "transient failures are retried",
			call:         activityCall{Activity: "flaky", Input: "x", MaxAttempts: 5},
			want:         "ok:x",
			wantAttempts: 3,
			wantRetries:  2,
		},
		{
			name:         "non-retryable error ends the invocation",
			call:         activityCall{Activity: "rejecting", Input: "x", MaxAttempts: 5},
			wantErr:      ErrActivityApplicationFailure,
			wantAttempts: 1,
		},
		{
			name:         "maximum attempts exhausted",
			call:         activityCall{Activity: "failing", MaxAttempts: 3},
			wantErr:      ErrActivityTransientFailure,
			wantAttempts: 3,
			wantRetries:  2,
		},
		{
			name:         "panics are retryable",
			call:         activityCall{Activity: "panicking", MaxAttempts: 2},
			wantErr:      ErrActivityTransientFailure,
			wantAttempts: 2,
			wantRetries:  1,
		},
		{
			name:         "start-to-close timeout fails the attempt",
			call:         activityCall{Activity: "slowFirst", StartToClose: 100 * time.Millisecond, MaxAttempts: 3},
			want:         "done on attempt 2",
			wantAttempts: 2,
			wantRetries:  1,
		},
		{
			name:         "schedule-to-close timeout",
			call:         activityCall{Activity: "blocking", ScheduleToClose: 200 * time.Millisecond},
			wantErr:      ErrActivityTimeout,
			wantAttempts: 1,
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := fmt.Sprintf("outcome-%d", i)
			got, err := executeCall(t, c, id, tt.call)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Get() error = %v, want %v", err, tt.wantErr)
				}
				var execErr *WorkflowExecutionError
				if !errors.As(err, &execErr) || execErr.Status != api.WorkflowStatusFailed {
					t.Errorf("Get() error = %#v, want failed WorkflowExecutionError", err)
				}
			} else if err != nil || got != tt.want {
				t.Fatalf("Get() = %q, %v; want %q", got, err, tt.want)
			}

			d := describeWorkflow(t, c, id)
			if len(d.Activities) != 1 {
				t.Fatalf("activities = %+v", d.Activities)
			}
			if a := d.Activities[0]; a.Attempt != tt.wantAttempts {
				t.Errorf("attempt = %d, want %d", a.Attempt, tt.wantAttempts)
			}
			if got := testutil.ToFloat64(w.metrics.activityRetries.WithLabelValues(tt.call.Activity)); got != tt.wantRetries {
				t.Errorf("retries = %v, want %v", got, tt.wantRetries)
			}
		})
	}

	eventually(t, "timeout metric", func() bool {
		return testutil.ToFloat64(w.metrics.activityTimeouts.WithLabelValues("blocking")) == 1
	})
}

func TestWorker_DuplicateWorkflowTaskIsNoop(t *testing.T) {
	c := newTestClient(t)
	w := startWorker(t, c, map[string]any{"upper": upperActivity})

	if _, err := executeCall(t, c, "dup", activityCall{Activity: "upper", Input: "a"}); err != nil {
		t.Fatal(err)
	}
	before := describeWorkflow(t, c, "dup").HistoryVersion

	task := api.NewWorkflowTask("dup", describeWorkflow(t, c, "dup").WorkflowType, before+100)
	if err := c.backend().queue.Enqueue(context.Background(), testQueue, task, 0); err != nil {
		t.Fatal(err)
	}
	eventually(t, "noop outcome", func() bool {
		return testutil.ToFloat64(w.metrics.taskOutcomes.WithLabelValues(string(testQueue), string(api.WorkflowTaskKind), "noop")) == 1
	})
	if after := describeWorkflow(t, c, "dup").HistoryVersion; after != before {
		t.Errorf("history version = %d after duplicate task, want %d", after, before)
	}
}

func TestWorker_CancelWorkflow(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	waitForCancel := func(ctx context.Context, in string) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	}

	c := newTestClient(t)
	startWorker(t, c, map[string]any{"wait": waitForCancel})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{ID: "cancel-me", TaskQueue: string(testQueue)},
		activityCallWorkflow, activityCall{Activity: "wait", ScheduleToClose: time.Minute})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("activity never started")
	}
	if err := c.CancelWorkflow(ctx, "cancel-me", "operator"); err != nil {
		t.Fatalf("CancelWorkflow() error = %v", err)
	}

	err = run.Get(ctx, nil)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Get() error = %v, want %v", err, ErrCanceled)
	}
	d := describeWorkflow(t, c, "cancel-me")
	if d.Status != api.WorkflowStatusCancelled || d.Failure == nil || d.Failure.Message != "operator" {
		t.Errorf("description = %+v, failure %+v", d, d.Failure)
	}
	if a := d.Activities[0]; !a.Resolved || a.Failure == nil || a.Failure.Kind != api.FailureCancelled {
		t.Errorf("activity = %+v, want resolved as Cancelled", a)
	}

	version := d.HistoryVersion
	if err := c.CancelWorkflow(ctx, "cancel-me", "again"); err != nil {
		t.Errorf("second CancelWorkflow() error = %v", err)
	}
	if got := describeWorkflow(t, c, "cancel-me").HistoryVersion; got != version {
		t.Errorf("cancelling a closed workflow changed history: %d -> %d", version, got)
	}
}

func TestWorker_UnregisteredWorkflowIsFatal(t *testing.T) {
	c := newTestClient(t)

	var reported atomic.Value
	w := newTestWorker(t, c, WorkerOptions{
		OnFatalError: func(err error) { reported.Store(err) },
	})
	if err := w.RegisterWorkflow(activityCallWorkflow); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{ID: "orphan", TaskQueue: string(testQueue)}, "missing.Workflow"); err != nil {
		t.Fatal(err)
	}

	err := w.Run(ctx)
	if !errors.Is(err, ErrWorkflowTaskDispatch) {
		t.Fatalf("Run() error = %v, want %v", err, ErrWorkflowTaskDispatch)
	}
	if !errors.Is(err, ErrWorkflowNotRegistered) {
		t.Errorf("Run() error = %v, want it to wrap %v", err, ErrWorkflowNotRegistered)
	}
	var dispatch *TaskDispatchError
	if !errors.As(err, &dispatch) || dispatch.TypeName != "missing.Workflow" {
		t.Errorf("dispatch error = %#v", err)
	}
	if got, _ := reported.Load().(error); got != err {
		t.Errorf("OnFatalError got %v, want %v", got, err)
	}
	if w.Healthy() == nil {
		t.Error("Healthy() = nil after fatal error")
	}
	if got := testutil.ToFloat64(w.metrics.fatalErrors); got != 1 {
		t.Errorf("fatal errors = %v, want 1", got)
	}
	if d := describeWorkflow(t, c, "orphan"); d.Status != api.WorkflowStatusRunning {
		t.Errorf("status = %s, want Running", d.Status)
	}
}

func TestWorker_NondeterministicReplay(t *testing.T) {
	flowV1 := func(ctx Context) error {
		ctx = WithActivityOptions(ctx, testActivityOptions)
		return ctx.ExecuteActivity("A").Get(ctx, nil)
	}
	flowV2 := func(ctx Context) error {
		ctx = WithActivityOptions(ctx, testActivityOptions)
		return ctx.ExecuteActivity("B").Get(ctx, nil)
	}

	c := newTestClient(t)
	w1 := newTestWorker(t, c, WorkerOptions{})
	if err := w1.RegisterWorkflow(flowV1, WorkflowRegisterOption{Name: "flow"}); err != nil {
		t.Fatal(err)
	}
	if err := w1.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ExecuteWorkflow(context.Background(), StartWorkflowOptions{ID: "drift", TaskQueue: string(testQueue)}, "flow"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "activity A scheduled", func() bool {
		return len(describeWorkflow(t, c, "drift").Activities) == 1
	})
	w1.Stop()

	w2 := newTestWorker(t, c, WorkerOptions{NondeterminismRetryDelay: time.Hour})
	if err := w2.RegisterWorkflow(flowV2, WorkflowRegisterOption{Name: "flow"}); err != nil {
		t.Fatal(err)
	}
	if err := w2.Start(); err != nil {
		t.Fatal(err)
	}
	defer w2.Stop()

	d := describeWorkflow(t, c, "drift")
	task := api.NewWorkflowTask("drift", "flow", d.HistoryVersion+100)
	if err := c.backend().queue.Enqueue(context.Background(), testQueue, task, 0); err != nil {
		t.Fatal(err)
	}
	eventually(t, "nondeterminism detected", func() bool {
		return testutil.ToFloat64(w2.metrics.nondeterminism) == 1
	})

	after := describeWorkflow(t, c, "drift")
	if after.Status != api.WorkflowStatusRunning || after.HistoryVersion != d.HistoryVersion {
		t.Errorf("diverged replay changed the instance: %+v", after)
	}
	if w2.Healthy() != nil {
		t.Errorf("Healthy() = %v; nondeterminism must not stop the worker", w2.Healthy())
	}
}

func TestWorker_Lifecycle(t *testing.T) {
	c := newTestClient(t)

	if _, err := NewWorker(nil, WorkerOptions{TaskQueue: "q"}); err == nil {
		t.Error("NewWorker(nil client) succeeded")
	}
	if _, err := NewWorker(c, WorkerOptions{TaskQueue: "  "}); err == nil {
		t.Error("NewWorker(blank queue) succeeded")
	}

	empty := newTestWorker(t, c, WorkerOptions{})
	if err := empty.Start(); err == nil {
		t.Error("Start() without registrations succeeded")
	}

	w := newTestWorker(t, c, WorkerOptions{})
	if err := w.Healthy(); err == nil {
		t.Error("Healthy() = nil before Start")
	}
	if err := w.RegisterActivity(upperActivity); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Healthy(); err != nil {
		t.Errorf("Healthy() = %v while polling", err)
	}
	if err := w.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := w.RegisterActivity(lowerActivity); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("RegisterActivity after Start = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := w.RegisterWorkflow(twoStepWorkflow); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("RegisterWorkflow after Start = %v, want %v", err, ErrAlreadyStarted)
	}

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if err := w.Healthy(); err == nil {
		t.Error("Healthy() = nil after Stop")
	}
	w.Stop()
}

// unreliablePollQueue fails the first polls it serves.
type unreliablePollQueue struct {
	TaskQueue
	failures atomic.Int32
}

func (q *unreliablePollQueue) Poll(ctx context.Context, queue api.TaskQueueName, kinds []api.TaskKind, wait time.Duration) (*TaskToken, error) {
	if q.failures.Add(-1) >= 0 {
		return nil, errors.New("nats: no responders available for request")
	}
	return q.TaskQueue.Poll(ctx, queue, kinds, wait)
}

func TestWorker_PollErrorsAreRetried(t *testing.T) {
	const failures = 3
	c := newTestClient(t)
	q := &unreliablePollQueue{TaskQueue: c.backend().queue}
	q.failures.Store(failures)
	c.backend().queue = q

	w := startWorker(t, c, map[string]any{"upper": upperActivity})
	out, err := executeCall(t, c, "poll-errors", activityCall{Activity: "upper", Input: "quiet"})
	if err != nil {
		t.Fatalf("workflow error = %v", err)
	}
	if out != "QUIET" {
		t.Errorf("result = %q, want %q", out, "QUIET")
	}
	if err := w.Healthy(); err != nil {
		t.Errorf("Healthy() = %v after transient poll errors", err)
	}
	var pollErrors float64
	for _, group := range []string{"workflow", "activity"} {
		pollErrors += testutil.ToFloat64(w.metrics.polls.WithLabelValues(string(testQueue), group, "error"))
	}
	if pollErrors != failures {
		t.Errorf("poll errors = %v, want %d", pollErrors, failures)
	}
}

func TestWorker_StopAbandonsInflightTasks(t *testing.T) {
	c := newTestClient(t)
	started := make(chan struct{}, 1)
	stuck := func(ctx context.Context, in string) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}

	w1 := newTestWorker(t, c, WorkerOptions{StopTimeout: 50 * time.Millisecond})
	if err := w1.RegisterWorkflow(activityCallWorkflow); err != nil {
		t.Fatal(err)
	}
	if err := w1.RegisterActivity(stuck, ActivityRegisterOption{Name: "handoff"}); err != nil {
		t.Fatal(err)
	}
	if err := w1.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{ID: "handoff", TaskQueue: string(testQueue)},
		activityCallWorkflow, activityCall{Activity: "handoff", Input: "x", ScheduleToClose: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("activity never started")
	}

	w1.Stop()
	select {
	case <-w1.Done():
	case <-ctx.Done():
		t.Fatal("worker did not stop")
	}
	abandoned := w1.metrics.taskOutcomes.WithLabelValues(string(testQueue), string(api.ActivityTaskKind), "abandoned")
	if got := testutil.ToFloat64(abandoned); got != 1 {
		t.Errorf("abandoned activity tasks = %v, want 1", got)
	}

	// the lease was released, so the attempt reaches the next worker well
	// before it would have expired
	startWorker(t, c, map[string]any{"handoff": upperActivity})
	var out string
	if err := run.Get(ctx, &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if out != "X" {
		t.Errorf("result = %q, want %q", out, "X")
	}
	d := describeWorkflow(t, c, "handoff")
	if len(d.Activities) != 1 || d.Activities[0].Attempt != 1 {
		t.Errorf("activities = %+v, want the abandoned attempt delivered again", d.Activities)
	}
}

func TestWorker_RegisterRacingStart(t *testing.T) {
	c := newTestClient(t)
	for i := range 20 {
		w := newTestWorker(t, c, WorkerOptions{TaskQueue: fmt.Sprintf("race-%d", i)})
		if err := w.RegisterWorkflow(twoStepWorkflow); err != nil {
			t.Fatal(err)
		}

		var (
			wg     sync.WaitGroup
			regErr error
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			regErr = w.RegisterActivity(upperActivity)
		}()
		if err := w.Start(); err != nil {
			t.Fatal(err)
		}
		wg.Wait()

		switch {
		case errors.Is(regErr, ErrAlreadyStarted):
		case regErr != nil:
			t.Fatalf("RegisterActivity() error = %v", regErr)
		default:
			// an accepted registration must be polled for
			queue := fmt.Sprintf("race-%d", i)
			eventually(t, "activity pollers", func() bool {
				return testutil.ToFloat64(w.metrics.polls.WithLabelValues(queue, "activity", "empty")) > 0
			})
		}
		w.Stop()
	}
}

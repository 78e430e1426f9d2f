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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstanceLocks(t *testing.T) {
	l := newInstanceLocks()
	ctx := context.Background()

	unlock, err := l.lock(ctx, "wf-1")
	if err != nil {
		t.Fatal(err)
	}

	other, err := l.lock(ctx, "wf-2")
	if err != nil {
		t.Fatalf("lock of another instance blocked: %v", err)
	}
	other()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.lock(short, "wf-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock error = %v, want %v", err, context.DeadlineExceeded)
	}

	acquired := make(chan func())
	go func() {
		u, err := l.lock(ctx, "wf-1")
		if err == nil {
			acquired <- u
		}
	}()
	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case u := <-acquired:
		u()
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by unlock")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Errorf("%d lock entries left after release", len(l.locks))
	}
}

func TestAttemptRegistry(t *testing.T) {
	r := newAttemptRegistry()
	k1 := attemptKey{workflowID: "wf", seq: 1, attempt: 1}
	k2 := attemptKey{workflowID: "wf", seq: 2, attempt: 1}

	ctx1, cancel1 := context.WithCancelCause(context.Background())
	ctx2, cancel2 := context.WithCancelCause(context.Background())
	defer cancel1(nil)
	defer cancel2(nil)

	if !r.add(k1, cancel1) || !r.add(k2, cancel2) {
		t.Fatal("add() rejected a new attempt")
	}
	if r.add(k1, cancel1) {
		t.Error("add() accepted a running attempt twice")
	}

	if n := r.cancel("wf", 1, ErrActivityTimeout); n != 1 {
		t.Errorf("cancel() = %d, want 1", n)
	}
	if !errors.Is(context.Cause(ctx1), ErrActivityTimeout) {
		t.Errorf("cause = %v", context.Cause(ctx1))
	}
	if ctx2.Err() != nil {
		t.Error("cancel() stopped an attempt of another invocation")
	}

	r.remove(k1)
	if !r.add(k1, cancel1) {
		t.Error("add() rejected an attempt after remove")
	}
	if k1.String() != "wf/1/1" {
		t.Errorf("String() = %s", k1)
	}
}

func TestWorkerMetrics_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newWorkerMetrics(reg)
	b := newWorkerMetrics(reg)

	a.activityRetries.WithLabelValues("Act").Inc()
	b.activityRetries.WithLabelValues("Act").Inc()
	if got := testutil.ToFloat64(a.activityRetries.WithLabelValues("Act")); got != 2 {
		t.Errorf("shared retries = %v, want 2", got)
	}

	if n, err := testutil.GatherAndCount(reg, "hellodurable_activity_retries_total"); err != nil || n != 1 {
		t.Errorf("GatherAndCount() = %d, %v", n, err)
	}

	private := newWorkerMetrics(nil)
	private.fatalErrors.Inc()
	if got := testutil.ToFloat64(a.fatalErrors); got != 0 {
		t.Errorf("private registry leaked into shared one: %v", got)
	}
}

func TestMemoryCloseNotifier(t *testing.T) {
	n := newMemoryCloseNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := n.watchClosed(ctx, "wf")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := n.watchClosed(ctx, "wf")
	select {
	case <-ch:
		t.Fatal("closed before publish")
	default:
	}
	for range 2 {
		if err := n.publishClosed(ctx, "wf", "Completed"); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range []<-chan struct{}{ch, second} {
		select {
		case <-c:
		case <-time.After(time.Second):
			t.Fatal("watch not released by publish")
		}
	}
	if got := waiterCount(n); got != 0 {
		t.Errorf("waiters after close = %d, want 0", got)
	}

	// a publish without watchers leaves nothing behind
	if err := n.publishClosed(ctx, "other", "Failed"); err != nil {
		t.Fatal(err)
	}
	if got := waiterCount(n); got != 0 {
		t.Errorf("waiters after unwatched close = %d, want 0", got)
	}
}

func TestMemoryCloseNotifier_WatchEnds(t *testing.T) {
	n := newMemoryCloseNotifier()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	_, _ = n.watchClosed(ctx1, "wf")
	_, _ = n.watchClosed(ctx2, "wf")

	cancel1()
	time.Sleep(20 * time.Millisecond)
	if got := waiterCount(n); got != 1 {
		t.Errorf("waiters with one watch left = %d, want 1", got)
	}
	cancel2()
	eventually(t, "last watch to release its entry", func() bool { return waiterCount(n) == 0 })
}

func waiterCount(n *memoryCloseNotifier) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters)
}

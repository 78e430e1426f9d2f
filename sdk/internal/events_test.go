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

	"github.com/DeluxeOwl/chronicle/eventlog"
	"github.com/cockroachdb/pebble"
	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/api/serde"
)

func scheduled(seq int) *api.ActivityScheduled {
	return &api.ActivityScheduled{
		Seq:                    seq,
		ActivityType:           "Act",
		TaskQueue:              testQueue,
		ScheduledAt:            time.Now(),
		ScheduleToCloseTimeout: time.Minute,
		RetryPolicy:            normalizeRetryPolicy(nil),
	}
}

func TestWorkflowState_Apply(t *testing.T) {
	tests := []struct {
		name    string
		events  []api.WorkflowEvent
		wantErr bool
	}{
		{
			name:   "schedule in order",
			events: []api.WorkflowEvent{scheduled(1), scheduled(2)},
		},
		{
			name:    "schedule out of order",
			events:  []api.WorkflowEvent{scheduled(2)},
			wantErr: true,
		},
		{
			name:    "resolve unknown seq",
			events:  []api.WorkflowEvent{&api.ActivityCompleted{Seq: 1, Attempt: 1}},
			wantErr: true,
		},
		{
			name: "resolve twice",
			events: []api.WorkflowEvent{
				scheduled(1),
				&api.ActivityCompleted{Seq: 1, Attempt: 1},
				&api.ActivityFailed{Seq: 1, Attempt: 1, Failure: api.Failure{Kind: api.FailureActivityTimeout}},
			},
			wantErr: true,
		},
		{
			name: "retry after resolution",
			events: []api.WorkflowEvent{
				scheduled(1),
				&api.ActivityFailed{Seq: 1, Attempt: 1, Failure: api.Failure{Kind: api.FailureActivityApplication}},
				&api.ActivityRetried{Seq: 1, Attempt: 1},
			},
			wantErr: true,
		},
		{
			name:    "close twice",
			events:  []api.WorkflowEvent{&api.WorkflowCompleted{}, &api.WorkflowFailed{}},
			wantErr: true,
		},
		{
			name:    "schedule after close",
			events:  []api.WorkflowEvent{&api.WorkflowCancelled{Reason: "stop"}, scheduled(1)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := startedState(t)
			var err error
			for _, e := range tt.events {
				if err = st.recordThat(e); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("recordThat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkflowState_InvocationAttempts(t *testing.T) {
	st := startedState(t)
	steps := []struct {
		event       api.WorkflowEvent
		wantAttempt int32
		resolved    bool
	}{
		{scheduled(1), 1, false},
		{&api.ActivityRetried{Seq: 1, Attempt: 1, Error: "reset"}, 2, false},
		{&api.ActivityRetried{Seq: 1, Attempt: 2, Error: "reset"}, 3, false},
		{&api.ActivityCompleted{Seq: 1, Attempt: 3, Result: "ok"}, 3, true},
	}
	for i, step := range steps {
		if err := st.recordThat(step.event); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		inv, _ := st.invocation(1)
		if inv.attempt != step.wantAttempt || inv.resolved != step.resolved {
			t.Errorf("step %d: attempt %d resolved %v, want %d %v", i, inv.attempt, inv.resolved, step.wantAttempt, step.resolved)
		}
	}
	if inv, _ := st.invocation(1); inv.lastError != "reset" {
		t.Errorf("lastError = %q", inv.lastError)
	}
	if len(st.pending()) != 0 {
		t.Errorf("pending = %d, want 0", len(st.pending()))
	}
}

func newMemoryHistory(t *testing.T) *historyStore {
	t.Helper()
	h, err := newHistoryStore(eventlog.NewMemory(), serde.Default())
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHistoryStore_SaveLoad(t *testing.T) {
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	pebbleHistory, err := newHistoryStore(eventlog.NewPebble(db), serde.Default())
	if err != nil {
		t.Fatal(err)
	}

	stores := map[string]*historyStore{
		"memory": newMemoryHistory(t),
		"pebble": pebbleHistory,
	}
	for name, h := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := h.load(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
				t.Fatalf("load(missing) error = %v, want %v", err, ErrWorkflowNotFound)
			}

			st := startedState(t, "in")
			if err := st.recordThat(scheduled(1)); err != nil {
				t.Fatal(err)
			}
			v, err := h.save(ctx, st)
			if err != nil {
				t.Fatalf("save() error = %v", err)
			}
			if v != 2 {
				t.Errorf("version = %d, want 2", v)
			}
			if again, err := h.save(ctx, st); err != nil || again != v {
				t.Errorf("save() without new events = %d, %v", again, err)
			}

			loaded, err := h.load(ctx, "wf-1")
			if err != nil {
				t.Fatalf("load() error = %v", err)
			}
			if loaded.workflowType != "twoStep" || loaded.taskQueue != testQueue || len(loaded.invocations) != 1 {
				t.Errorf("loaded = %+v", loaded)
			}
			if inv, _ := loaded.invocation(1); inv.scheduled.ScheduleToCloseTimeout != time.Minute {
				t.Errorf("timeout = %v after reload", inv.scheduled.ScheduleToCloseTimeout)
			}
		})
	}
}

func TestHistoryStore_Conflict(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHistory(t)
	if _, err := h.save(ctx, startedState(t)); err != nil {
		t.Fatal(err)
	}

	a, err := h.load(ctx, "wf-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.load(ctx, "wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.recordThat(scheduled(1)); err != nil {
		t.Fatal(err)
	}
	if err := b.recordThat(&api.WorkflowCancelRequested{Reason: "x"}); err != nil {
		t.Fatal(err)
	}

	if _, err := h.save(ctx, a); err != nil {
		t.Fatalf("first save() error = %v", err)
	}
	if _, err := h.save(ctx, b); !errors.Is(err, errHistoryConflict) {
		t.Errorf("second save() error = %v, want %v", err, errHistoryConflict)
	}
}

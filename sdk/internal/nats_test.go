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
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/api/serde"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupNATS starts a JetStream enabled server in a container. Tests using it
// are skipped in short mode and when no container provider is available.
func setupNATS(t *testing.T) *nats.Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.12",
			ExposedPorts: []string{"4222/tcp"},
			Entrypoint:   []string{"nats-server", "-js"},
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get NATS container endpoint: %v", err)
	}
	nc, err := nats.Connect("nats://" + endpoint)
	if err != nil {
		t.Fatalf("failed to connect to NATS server: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSTaskQueue(t *testing.T) {
	nc := setupNATS(t)
	q, err := NewNATSTaskQueue(nc, "queue", serde.Default())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	t.Run("invalid queue name", func(t *testing.T) {
		if err := q.Enqueue(ctx, "a.b", api.NewWorkflowTask("wf", "Flow", 1), 0); err == nil {
			t.Error("Enqueue() accepted a queue name with a dot")
		}
	})

	t.Run("dedup and complete", func(t *testing.T) {
		task := api.NewWorkflowTask("wf-1", "Flow", 1)
		for range 2 {
			if err := q.Enqueue(ctx, testQueue, task, 0); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
		}
		tok := mustPoll(t, q, workflowKinds, 5*time.Second)
		if tok.Task.TaskID() != task.TaskID() || tok.Delivery != 1 {
			t.Errorf("got task %s delivery %d", tok.Task.TaskID(), tok.Delivery)
		}
		if err := tok.Complete(ctx); err != nil {
			t.Fatal(err)
		}
		if again, err := q.Poll(ctx, testQueue, workflowKinds, time.Second); err != nil || again != nil {
			t.Errorf("Poll() after dedup = %v, %v; want nothing", again, err)
		}
	})

	t.Run("fail redelivers", func(t *testing.T) {
		if err := q.Enqueue(ctx, testQueue, api.NewActivityTask("wf-2", 1, "Act", 1), 0); err != nil {
			t.Fatal(err)
		}
		kinds := []api.TaskKind{api.ActivityTaskKind}
		tok := mustPoll(t, q, kinds, 5*time.Second)
		if err := tok.Fail(ctx, 0); err != nil {
			t.Fatal(err)
		}
		tok = mustPoll(t, q, kinds, 5*time.Second)
		if tok.Delivery != 2 {
			t.Errorf("delivery = %d, want 2", tok.Delivery)
		}
		if err := tok.Complete(ctx); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("delayed task", func(t *testing.T) {
		if err := q.Enqueue(ctx, testQueue, api.NewWorkflowTask("wf-3", "Flow", 1), 1500*time.Millisecond); err != nil {
			t.Fatal(err)
		}
		start := time.Now()
		tok := mustPoll(t, q, workflowKinds, 10*time.Second)
		if waited := time.Since(start); waited < time.Second {
			t.Errorf("delayed task delivered after %v", waited)
		}
		_ = tok.Complete(ctx)
	})
}

func TestJetStreamHistoryLog(t *testing.T) {
	nc := setupNATS(t)
	log, err := NewJetStreamHistoryLog(nc, "history", serde.Default())
	if err != nil {
		t.Fatal(err)
	}
	h, err := newHistoryStore(log, serde.Default())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := h.load(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("load(missing) error = %v, want %v", err, ErrWorkflowNotFound)
	}
	st := startedState(t, "in")
	if err := st.recordThat(scheduled(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.save(ctx, st); err != nil {
		t.Fatalf("save() error = %v", err)
	}

	a, err := h.load(ctx, "wf-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.load(ctx, "wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.invocations) != 1 || a.Version() != 2 {
		t.Fatalf("loaded %d invocations at version %d", len(a.invocations), a.Version())
	}
	if err := a.recordThat(&api.ActivityCompleted{Seq: 1, Attempt: 1, Result: "done"}); err != nil {
		t.Fatal(err)
	}
	if err := b.recordThat(&api.WorkflowCancelRequested{Reason: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.save(ctx, a); err != nil {
		t.Fatalf("save() error = %v", err)
	}
	if _, err := h.save(ctx, b); !errors.Is(err, errHistoryConflict) {
		t.Errorf("stale save() error = %v, want %v", err, errHistoryConflict)
	}
}

func TestClient_NATSEndToEnd(t *testing.T) {
	nc := setupNATS(t)
	c, err := NewClient(&ClientOptions{Conn: nc, Namespace: fmt.Sprintf("e2e%d", time.Now().Unix())})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	w := newTestWorker(t, c, WorkerOptions{PollTimeout: time.Second})
	for _, err := range []error{
		w.RegisterWorkflow(twoStepWorkflow),
		w.RegisterActivity(upperActivity),
		w.RegisterActivity(lowerActivity),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	run, err := c.ExecuteWorkflow(ctx, StartWorkflowOptions{ID: "nats-1", TaskQueue: string(testQueue)}, twoStepWorkflow, "Hello")
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
}

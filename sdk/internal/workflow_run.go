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
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ngnhng/hellodurable/api"
)

const (
	resultPollInitial = 20 * time.Millisecond
	resultPollMax     = 2 * time.Second
)

// WorkflowRun is a handle to one workflow instance.
type WorkflowRun interface {
	ID() api.WorkflowID
	// Get waits for the instance to close. It stores the result into
	// valuePtr, or returns a *WorkflowExecutionError for instances that
	// failed or were cancelled.
	Get(ctx context.Context, valuePtr any) error
}

type workflowRun struct {
	b  *backend
	id api.WorkflowID
}

func newWorkflowRun(b *backend, id api.WorkflowID) *workflowRun {
	return &workflowRun{b: b, id: id}
}

func (r *workflowRun) ID() api.WorkflowID { return r.id }

func (r *workflowRun) Get(ctx context.Context, valuePtr any) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	closed, err := r.b.closes.watchClosed(watchCtx, r.id)
	if err != nil {
		// polling alone still converges
		r.b.logger.Warn("cannot watch workflow close, polling history", "workflow_id", r.id, "error", err)
		closed = nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = resultPollInitial
	bo.MaxInterval = resultPollMax
	bo.Reset()

	for {
		st, err := r.b.history.load(ctx, r.id)
		if err != nil {
			return err
		}
		if st.closed() {
			return r.outcome(st, valuePtr)
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-closed:
			closed = nil
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (r *workflowRun) outcome(st *workflowState, valuePtr any) error {
	if st.status == api.WorkflowStatusCompleted {
		if st.result == nil {
			return nil
		}
		return r.b.conv.Assign(st.result, valuePtr)
	}
	f := api.Failure{Kind: api.FailureWorkflowApplication, Message: string(st.status)}
	if st.failure != nil {
		f = *st.failure
	}
	return newWorkflowExecutionError(st.id, st.status, f)
}

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

	"github.com/DeluxeOwl/chronicle"
	"github.com/DeluxeOwl/chronicle/aggregate"
	"github.com/DeluxeOwl/chronicle/event"
	"github.com/DeluxeOwl/chronicle/version"
	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/api/serde"
)

// workflowState is the event-sourced state of one workflow instance.
type workflowState struct {
	aggregate.Base

	id           api.WorkflowID
	workflowType string
	taskQueue    api.TaskQueueName
	input        []any
	startedAt    time.Time

	// invocations[i] holds seq i+1.
	invocations []*invocation

	status  api.WorkflowStatus
	result  any
	failure *api.Failure

	cancelRequested bool
	cancelReason    string

	// recorded counts events recorded since the state was loaded.
	recorded int
}

// invocation is the replay view of one ActivityInvocation.
type invocation struct {
	scheduled api.ActivityScheduled

	attempt       int32
	nextAttemptAt time.Time
	lastError     string

	resolved bool
	result   any
	failure  *api.Failure
}

func (inv *invocation) deadline() time.Time {
	return inv.scheduled.ScheduledAt.Add(inv.scheduled.ScheduleToCloseTimeout)
}

func newWorkflowState() *workflowState {
	return &workflowState{}
}

func (s *workflowState) EventFuncs() event.FuncsFor[api.WorkflowEvent] {
	return event.FuncsFor[api.WorkflowEvent]{
		func() api.WorkflowEvent { return new(api.WorkflowStarted) },
		func() api.WorkflowEvent { return new(api.ActivityScheduled) },
		func() api.WorkflowEvent { return new(api.ActivityRetried) },
		func() api.WorkflowEvent { return new(api.ActivityCompleted) },
		func() api.WorkflowEvent { return new(api.ActivityFailed) },
		func() api.WorkflowEvent { return new(api.WorkflowCancelRequested) },
		func() api.WorkflowEvent { return new(api.WorkflowCompleted) },
		func() api.WorkflowEvent { return new(api.WorkflowFailed) },
		func() api.WorkflowEvent { return new(api.WorkflowCancelled) },
	}
}

func (s *workflowState) ID() api.WorkflowID { return s.id }

func (s *workflowState) recordThat(e api.WorkflowEvent) error {
	if err := aggregate.RecordEvent[api.WorkflowID, api.WorkflowEvent](s, e); err != nil {
		return err
	}
	s.recorded++
	return nil
}

// Apply folds one event into the state. It rejects events that would give an
// invocation a second outcome or close an instance twice.
func (s *workflowState) Apply(e api.WorkflowEvent) error {
	switch evt := e.(type) {
	case *api.WorkflowStarted:
		if s.id != "" {
			return fmt.Errorf("workflow %s already started", s.id)
		}
		s.id = evt.ID
		s.workflowType = evt.WorkflowType
		s.taskQueue = evt.TaskQueue
		s.input = evt.Input
		s.startedAt = evt.StartedAt
		s.status = api.WorkflowStatusRunning
	case *api.ActivityScheduled:
		if s.status.Closed() {
			return fmt.Errorf("schedule activity on %s workflow", s.status)
		}
		if evt.Seq != len(s.invocations)+1 {
			return fmt.Errorf("activity scheduled out of order: seq %d after %d", evt.Seq, len(s.invocations))
		}
		s.invocations = append(s.invocations, &invocation{
			scheduled:     *evt,
			attempt:       1,
			nextAttemptAt: evt.ScheduledAt,
		})
	case *api.ActivityRetried:
		inv, err := s.unresolved(evt.Seq)
		if err != nil {
			return err
		}
		inv.attempt = evt.Attempt + 1
		inv.nextAttemptAt = evt.NextAttemptAt
		inv.lastError = evt.Error
	case *api.ActivityCompleted:
		inv, err := s.unresolved(evt.Seq)
		if err != nil {
			return err
		}
		inv.resolved = true
		inv.attempt = evt.Attempt
		inv.result = evt.Result
	case *api.ActivityFailed:
		inv, err := s.unresolved(evt.Seq)
		if err != nil {
			return err
		}
		f := evt.Failure
		inv.resolved = true
		inv.attempt = evt.Attempt
		inv.failure = &f
	case *api.WorkflowCancelRequested:
		s.cancelRequested = true
		s.cancelReason = evt.Reason
	case *api.WorkflowCompleted:
		if err := s.close(api.WorkflowStatusCompleted); err != nil {
			return err
		}
		s.result = evt.Result
	case *api.WorkflowFailed:
		if err := s.close(api.WorkflowStatusFailed); err != nil {
			return err
		}
		f := evt.Failure
		s.failure = &f
	case *api.WorkflowCancelled:
		if err := s.close(api.WorkflowStatusCancelled); err != nil {
			return err
		}
		s.failure = &api.Failure{Kind: api.FailureCancelled, Message: evt.Reason}
	default:
		return fmt.Errorf("unknown event type: %T", e)
	}
	return nil
}

func (s *workflowState) close(status api.WorkflowStatus) error {
	if s.status.Closed() {
		return fmt.Errorf("workflow %s already %s", s.id, s.status)
	}
	s.status = status
	return nil
}

func (s *workflowState) invocation(seq int) (*invocation, bool) {
	if seq < 1 || seq > len(s.invocations) {
		return nil, false
	}
	return s.invocations[seq-1], true
}

func (s *workflowState) unresolved(seq int) (*invocation, error) {
	inv, ok := s.invocation(seq)
	if !ok {
		return nil, fmt.Errorf("activity seq %d was never scheduled", seq)
	}
	if inv.resolved {
		return nil, fmt.Errorf("activity seq %d already resolved", seq)
	}
	return inv, nil
}

// pending returns the unresolved invocations in seq order.
func (s *workflowState) pending() []*invocation {
	var out []*invocation
	for _, inv := range s.invocations {
		if !inv.resolved {
			out = append(out, inv)
		}
	}
	return out
}

func (s *workflowState) closed() bool { return s.status.Closed() }

// historyStore loads and saves workflow state through an event log.
type historyStore struct {
	repo *aggregate.ESRepo[api.WorkflowID, api.WorkflowEvent, *workflowState]
	log  event.Log
}

func newHistoryStore(log event.Log, s serde.BinarySerde) (*historyStore, error) {
	repo, err := chronicle.NewEventSourcedRepository[api.WorkflowID, api.WorkflowEvent, *workflowState](
		log,
		newWorkflowState,
		nil,
		aggregate.EventSerializer(s),
	)
	if err != nil {
		return nil, fmt.Errorf("create history repository: %w", err)
	}
	return &historyStore{repo: repo, log: log}, nil
}

// load replays the history of id. It returns ErrWorkflowNotFound for ids
// without history.
func (h *historyStore) load(ctx context.Context, id api.WorkflowID) (*workflowState, error) {
	st, err := h.repo.Get(ctx, id)
	if err != nil {
		// the repository reports an empty log as a plain error
		if ok, lerr := h.exists(ctx, id); lerr == nil && !ok {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("load history of %s: %w", id, err)
	}
	return st, nil
}

// exists reports whether the log of id holds at least one event.
func (h *historyStore) exists(ctx context.Context, id api.WorkflowID) (bool, error) {
	for _, err := range h.log.ReadEvents(ctx, event.LogID(id.String()), version.SelectFromBeginning) {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// save appends the events recorded on st. A concurrent writer surfaces as
// errHistoryConflict.
func (h *historyStore) save(ctx context.Context, st *workflowState) (version.Version, error) {
	if st.recorded == 0 {
		return st.Version(), nil
	}
	v, _, err := h.repo.Save(ctx, st)
	if err != nil {
		if isVersionConflict(err) {
			return v, fmt.Errorf("%w: %s: %v", errHistoryConflict, st.id, err)
		}
		return v, fmt.Errorf("save history of %s: %w", st.id, err)
	}
	st.recorded = 0
	return v, nil
}

func isVersionConflict(err error) bool {
	var ptr *version.ConflictError
	if errors.As(err, &ptr) {
		return true
	}
	var val version.ConflictError
	return errors.As(err, &val)
}

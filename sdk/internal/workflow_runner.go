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
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/ngnhng/hellodurable/api"
)

// runOutcome is what one execution of workflow code produced.
type runOutcome struct {
	// suspended is set when the code stopped at an unresolved future.
	suspended bool
	result    any
	err       error
}

// runWorkflow executes the entry function of r's instance from the start,
// matching proxy calls against recorded history. The returned error is
// non-nil only for nondeterminism, which must abort the task unrecorded.
func runWorkflow(r *replayer, fn *registeredFunc) (out runOutcome, err error) {
	args, convErr := r.conv.ConvertArgs(fn.fnType, 1, r.state.input)
	if convErr != nil {
		return runOutcome{err: fmt.Errorf("decode workflow input: %w", convErr)}, nil
	}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		switch p := rec.(type) {
		case errorBlockingFuture:
			out = runOutcome{suspended: true}
		case *nondeterminismError:
			out, err = runOutcome{}, p
		default:
			out = runOutcome{err: &PanicError{Value: p, Stack: string(debug.Stack())}}
		}
	}()

	var ctx Context = newWorkflowContext(r)
	results := fn.fn.Call(append([]reflect.Value{reflect.ValueOf(ctx)}, args...))
	result, werr := splitResults(results)

	// returning before every recorded call was made again is divergence too
	if r.cursor < r.loaded {
		inv := r.state.invocations[r.cursor]
		return runOutcome{}, &nondeterminismError{seq: r.cursor + 1, recorded: inv.scheduled.ActivityType, replayed: "return"}
	}
	return runOutcome{result: result, err: werr}, nil
}

// closingEvent turns a finished run into the event that closes the instance.
func closingEvent(st *workflowState, out runOutcome) api.WorkflowEvent {
	if out.err == nil {
		return &api.WorkflowCompleted{Result: out.result}
	}
	if errors.Is(out.err, ErrCanceled) {
		reason := st.cancelReason
		if reason == "" {
			var ce *CanceledError
			if errors.As(out.err, &ce) {
				reason = ce.Reason
			} else {
				reason = out.err.Error()
			}
		}
		return &api.WorkflowCancelled{Reason: reason}
	}
	return &api.WorkflowFailed{Failure: errorToFailure(out.err)}
}

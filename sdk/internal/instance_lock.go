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
	"fmt"
	"sync"

	"github.com/ngnhng/hellodurable/api"
)

// instanceLocks serializes history writes for one workflow instance inside
// the process. Entries are dropped once nobody holds or waits for them.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[api.WorkflowID]*instanceLock
}

type instanceLock struct {
	ch   chan struct{}
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[api.WorkflowID]*instanceLock)}
}

// lock blocks until id is free or ctx ends. The returned func releases it.
func (l *instanceLocks) lock(ctx context.Context, id api.WorkflowID) (func(), error) {
	l.mu.Lock()
	il, ok := l.locks[id]
	if !ok {
		il = &instanceLock{ch: make(chan struct{}, 1)}
		l.locks[id] = il
	}
	il.refs++
	l.mu.Unlock()

	select {
	case il.ch <- struct{}{}:
		return func() {
			<-il.ch
			l.release(id, il)
		}, nil
	case <-ctx.Done():
		l.release(id, il)
		return nil, ctx.Err()
	}
}

func (l *instanceLocks) release(id api.WorkflowID, il *instanceLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	il.refs--
	if il.refs == 0 {
		delete(l.locks, id)
	}
}

// attemptKey names one physical activity attempt.
type attemptKey struct {
	workflowID api.WorkflowID
	seq        int
	attempt    int32
}

func (k attemptKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.workflowID, k.seq, k.attempt)
}

// attemptRegistry tracks activity attempts running in this process so a
// timeout or cancellation can stop them.
type attemptRegistry struct {
	mu      sync.Mutex
	running map[attemptKey]context.CancelCauseFunc
}

func newAttemptRegistry() *attemptRegistry {
	return &attemptRegistry{running: make(map[attemptKey]context.CancelCauseFunc)}
}

// add registers an attempt. It reports false when the attempt is already
// running here, which happens on duplicate delivery.
func (r *attemptRegistry) add(k attemptKey, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[k]; ok {
		return false
	}
	r.running[k] = cancel
	return true
}

func (r *attemptRegistry) remove(k attemptKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, k)
}

// cancel stops every local attempt of invocation (id, seq).
func (r *attemptRegistry) cancel(id api.WorkflowID, seq int, cause error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, cancel := range r.running {
		if k.workflowID == id && k.seq == seq {
			cancel(cause)
			n++
		}
	}
	return n
}

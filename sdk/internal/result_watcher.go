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
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/ngnhng/hellodurable/api"
)

// resultTTL bounds how long close announcements stay in the KV bucket.
const resultTTL = 24 * time.Hour

// closeNotifier tells waiting starters that an instance closed. It only
// shortens the wait: starters read the outcome from history.
type closeNotifier interface {
	publishClosed(ctx context.Context, id api.WorkflowID, status api.WorkflowStatus) error
	// watchClosed returns a channel that is closed once id has closed. The
	// watch ends with ctx.
	watchClosed(ctx context.Context, id api.WorkflowID) (<-chan struct{}, error)
}

// memoryCloseNotifier only tracks instances somebody is waiting for. An entry
// goes away when its instance closes or its last watch ends.
type memoryCloseNotifier struct {
	mu      sync.Mutex
	waiters map[api.WorkflowID]*memoryWatch
}

type memoryWatch struct {
	ch   chan struct{}
	refs int
}

func newMemoryCloseNotifier() *memoryCloseNotifier {
	return &memoryCloseNotifier{waiters: make(map[api.WorkflowID]*memoryWatch)}
}

func (n *memoryCloseNotifier) publishClosed(_ context.Context, id api.WorkflowID, _ api.WorkflowStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if w, ok := n.waiters[id]; ok {
		close(w.ch)
		delete(n.waiters, id)
	}
	return nil
}

// watchClosed only sees closes published after it was called. Callers check
// history once the watch is in place.
func (n *memoryCloseNotifier) watchClosed(ctx context.Context, id api.WorkflowID) (<-chan struct{}, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.waiters[id]
	if !ok {
		w = &memoryWatch{ch: make(chan struct{})}
		n.waiters[id] = w
	}
	w.refs++
	context.AfterFunc(ctx, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		w.refs--
		if w.refs == 0 && n.waiters[id] == w {
			delete(n.waiters, id)
		}
	})
	return w.ch, nil
}

// kvCloseNotifier announces closes through a JetStream KV bucket keyed by
// instance id.
type kvCloseNotifier struct {
	conn *Conn

	mu sync.Mutex
	kv jetstream.KeyValue
}

func newKVCloseNotifier(conn *Conn) *kvCloseNotifier {
	return &kvCloseNotifier{conn: conn}
}

func (n *kvCloseNotifier) bucket(ctx context.Context) (jetstream.KeyValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kv != nil {
		return n.kv, nil
	}
	kv, err := n.conn.EnsureKV(ctx, jetstream.KeyValueConfig{
		Bucket:  api.ResultBucketName(n.conn.Namespace()),
		TTL:     resultTTL,
		History: 1,
	})
	if err != nil {
		return nil, err
	}
	n.kv = kv
	return kv, nil
}

func (n *kvCloseNotifier) publishClosed(ctx context.Context, id api.WorkflowID, status api.WorkflowStatus) error {
	kv, err := n.bucket(ctx)
	if err != nil {
		return err
	}
	_, err = kv.Put(ctx, api.ResultKey(string(id)), []byte(status))
	return err
}

func (n *kvCloseNotifier) watchClosed(ctx context.Context, id api.WorkflowID) (<-chan struct{}, error) {
	kv, err := n.bucket(ctx)
	if err != nil {
		return nil, err
	}
	watcher, err := n.conn.WatchKV(ctx, kv, api.ResultKey(string(id)))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values
				if update != nil && update.Operation() == jetstream.KeyValuePut {
					n.conn.Logger().Debug("workflow close announced", "workflow_id", id)
					close(done)
					return
				}
			}
		}
	}()
	return done, nil
}

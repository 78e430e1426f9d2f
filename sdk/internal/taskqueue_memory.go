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
	"slices"
	"sync"
	"time"

	"github.com/ngnhng/hellodurable/api"
)

const (
	DefaultLeaseTimeout = 30 * time.Second
	DefaultDedupWindow  = 10 * time.Minute
)

var _ TaskQueue = (*MemoryTaskQueue)(nil)

// MemoryTaskQueue is an in-process TaskQueue. Tasks become visible after
// their delay, are leased to one poller at a time and return to the queue
// when a lease expires without being settled.
type MemoryTaskQueue struct {
	leaseTimeout time.Duration
	dedupWindow  time.Duration
	now          func() time.Time

	mu      sync.Mutex
	items   map[memoryQueueKey][]*memoryItem
	leased  map[uint64]*memoryItem
	seen    map[string]time.Time
	nextID  uint64
	changed chan struct{}
}

type memoryQueueKey struct {
	queue api.TaskQueueName
	kind  api.TaskKind
}

type memoryItem struct {
	task      api.Task
	key       memoryQueueKey
	visibleAt time.Time

	lease      uint64
	leaseUntil time.Time
	deliveries uint64
}

type MemoryTaskQueueOption func(*MemoryTaskQueue)

func WithLeaseTimeout(d time.Duration) MemoryTaskQueueOption {
	return func(q *MemoryTaskQueue) { q.leaseTimeout = d }
}

func WithDedupWindow(d time.Duration) MemoryTaskQueueOption {
	return func(q *MemoryTaskQueue) { q.dedupWindow = d }
}

func NewMemoryTaskQueue(opts ...MemoryTaskQueueOption) *MemoryTaskQueue {
	q := &MemoryTaskQueue{
		leaseTimeout: DefaultLeaseTimeout,
		dedupWindow:  DefaultDedupWindow,
		now:          time.Now,
		items:        make(map[memoryQueueKey][]*memoryItem),
		leased:       make(map[uint64]*memoryItem),
		seen:         make(map[string]time.Time),
		changed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// broadcast wakes every waiting poller. Callers hold q.mu.
func (q *MemoryTaskQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *MemoryTaskQueue) Enqueue(ctx context.Context, queue api.TaskQueueName, task api.Task, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for id, at := range q.seen {
		if now.Sub(at) > q.dedupWindow {
			delete(q.seen, id)
		}
	}
	if _, dup := q.seen[task.TaskID()]; dup {
		return nil
	}
	q.seen[task.TaskID()] = now

	key := memoryQueueKey{queue: queue, kind: task.Kind()}
	q.items[key] = append(q.items[key], &memoryItem{
		task:      task,
		key:       key,
		visibleAt: now.Add(max(delay, 0)),
	})
	q.broadcast()
	return nil
}

func (q *MemoryTaskQueue) Poll(ctx context.Context, queue api.TaskQueueName, kinds []api.TaskKind, wait time.Duration) (*TaskToken, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		token, wake := q.lease(queue, kinds)
		changed := q.changed
		q.mu.Unlock()
		if token != nil {
			return token, nil
		}

		var (
			wakeTimer *time.Timer
			wakeC     <-chan time.Time
		)
		if !wake.IsZero() {
			wakeTimer = time.NewTimer(max(wake.Sub(q.now()), time.Millisecond))
			wakeC = wakeTimer.C
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-changed:
		case <-wakeC:
		}
		if wakeTimer != nil {
			wakeTimer.Stop()
		}
	}
}

// lease hands out the first visible item of kinds. When nothing is visible it
// returns the earliest time something will be. Callers hold q.mu.
func (q *MemoryTaskQueue) lease(queue api.TaskQueueName, kinds []api.TaskKind) (*TaskToken, time.Time) {
	now := q.now()
	q.reapExpired(now)

	var wake time.Time
	for _, kind := range kinds {
		key := memoryQueueKey{queue: queue, kind: kind}
		for i, item := range q.items[key] {
			if item.visibleAt.After(now) {
				if wake.IsZero() || item.visibleAt.Before(wake) {
					wake = item.visibleAt
				}
				continue
			}
			q.items[key] = slices.Delete(q.items[key], i, i+1)
			q.nextID++
			item.lease = q.nextID
			item.leaseUntil = now.Add(q.leaseTimeout)
			item.deliveries++
			q.leased[item.lease] = item
			return q.token(item), time.Time{}
		}
	}
	for _, item := range q.leased {
		if item.key.queue == queue && slices.Contains(kinds, item.key.kind) {
			if wake.IsZero() || item.leaseUntil.Before(wake) {
				wake = item.leaseUntil
			}
		}
	}
	return nil, wake
}

func (q *MemoryTaskQueue) reapExpired(now time.Time) {
	for id, item := range q.leased {
		if item.leaseUntil.After(now) {
			continue
		}
		delete(q.leased, id)
		item.lease = 0
		item.visibleAt = now
		q.items[item.key] = append(q.items[item.key], item)
	}
}

func (q *MemoryTaskQueue) token(item *memoryItem) *TaskToken {
	lease := item.lease
	return &TaskToken{
		Task:     item.task,
		Queue:    item.key.queue,
		Delivery: item.deliveries,
		complete: func(context.Context) error {
			q.settle(lease, nil)
			return nil
		},
		fail: func(_ context.Context, delay time.Duration) error {
			q.settle(lease, &delay)
			return nil
		},
		terminate: func(context.Context) error {
			q.settle(lease, nil)
			return nil
		},
		inProgress: func(context.Context) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			if item, ok := q.leased[lease]; ok {
				item.leaseUntil = q.now().Add(q.leaseTimeout)
			}
			return nil
		},
	}
}

// settle releases a lease. A non-nil redeliverAfter puts the item back.
// Settling a lease that already expired is a no-op: the item has been handed
// to another poller.
func (q *MemoryTaskQueue) settle(lease uint64, redeliverAfter *time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.leased[lease]
	if !ok {
		return
	}
	delete(q.leased, lease)
	if redeliverAfter == nil {
		return
	}
	item.lease = 0
	item.visibleAt = q.now().Add(max(*redeliverAfter, 0))
	q.items[item.key] = append(q.items[item.key], item)
	q.broadcast()
}

// Len reports the number of queued and leased tasks.
func (q *MemoryTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.leased)
	for _, items := range q.items {
		n += len(items)
	}
	return n
}

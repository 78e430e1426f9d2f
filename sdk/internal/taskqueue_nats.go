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
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/api/serde"
)

// minFetchWait keeps pull requests from expiring before the server answers.
const minFetchWait = time.Second

var _ TaskQueue = (*NATSTaskQueue)(nil)

// NATSTaskQueue is a TaskQueue on one JetStream work-queue stream per
// namespace. Each (queue, kind group) pair is served by a durable pull
// consumer shared by all workers polling it.
type NATSTaskQueue struct {
	conn         *Conn
	serde        serde.BinarySerde
	storage      jetstream.StorageType
	leaseTimeout time.Duration
	dedupWindow  time.Duration
	now          func() time.Time

	mu        sync.Mutex
	stream    jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func newNATSTaskQueue(conn *Conn, s serde.BinarySerde, storage jetstream.StorageType) *NATSTaskQueue {
	if s == nil {
		s = serde.Default()
	}
	return &NATSTaskQueue{
		conn:         conn,
		serde:        s,
		storage:      storage,
		leaseTimeout: DefaultLeaseTimeout,
		dedupWindow:  DefaultDedupWindow,
		now:          time.Now,
		consumers:    make(map[string]jetstream.Consumer),
	}
}

// NewNATSTaskQueue returns a JetStream task queue on nc.
func NewNATSTaskQueue(nc *nats.Conn, namespace string, s serde.BinarySerde) (*NATSTaskQueue, error) {
	conn, err := wrapExisting(nc, namespace, nil)
	if err != nil {
		return nil, err
	}
	return newNATSTaskQueue(conn, s, jetstream.FileStorage), nil
}

func (q *NATSTaskQueue) ensureStream(ctx context.Context) (jetstream.Stream, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stream != nil {
		return q.stream, nil
	}
	ns := q.conn.Namespace()
	stream, err := q.conn.EnsureStream(ctx, jetstream.StreamConfig{
		Name:       api.TaskStreamName(ns),
		Subjects:   []string{api.TaskStreamSubjects(ns)},
		Storage:    q.storage,
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: q.dedupWindow,
	})
	if err != nil {
		return nil, err
	}
	q.stream = stream
	return stream, nil
}

func (q *NATSTaskQueue) consumer(ctx context.Context, queue api.TaskQueueName, kinds []api.TaskKind) (jetstream.Consumer, error) {
	if _, err := q.ensureStream(ctx); err != nil {
		return nil, err
	}
	name := api.TaskConsumerName(queue, consumerGroup(kinds))

	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.consumers[name]; ok {
		return c, nil
	}

	filters := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		filters = append(filters, api.TaskSubject(q.conn.Namespace(), queue, kind))
	}
	c, err := q.conn.EnsureConsumer(ctx, api.TaskStreamName(q.conn.Namespace()), jetstream.ConsumerConfig{
		Name:           name,
		Durable:        name,
		FilterSubjects: filters,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        q.leaseTimeout,
		MaxDeliver:     -1,
	})
	if err != nil {
		return nil, err
	}
	q.consumers[name] = c
	return c, nil
}

func consumerGroup(kinds []api.TaskKind) string {
	if slices.Contains(kinds, api.WorkflowTaskKind) || slices.Contains(kinds, api.ActivityTimeoutTaskKind) {
		return api.WorkflowTaskWorkerConsumer
	}
	return api.ActivityTaskWorkerConsumer
}

func (q *NATSTaskQueue) Enqueue(ctx context.Context, queue api.TaskQueueName, task api.Task, delay time.Duration) error {
	if !api.ValidSubjectToken(string(queue)) {
		return fmt.Errorf("task queue name %q is not a valid subject token", queue)
	}
	if _, err := q.ensureStream(ctx); err != nil {
		return err
	}
	data, err := q.serde.SerializeBinary(task)
	if err != nil {
		return fmt.Errorf("encode %s task %s: %w", task.Kind(), task.TaskID(), err)
	}

	msg := nats.NewMsg(api.TaskSubject(q.conn.Namespace(), queue, task.Kind()))
	msg.Data = data
	msg.Header.Set(api.TaskKindHeader, string(task.Kind()))
	if delay > 0 {
		msg.Header.Set(api.TaskNotBeforeHeader, strconv.FormatInt(q.now().Add(delay).UnixNano(), 10))
	}

	if _, err := q.conn.PublishMsg(ctx, msg, jetstream.WithMsgID(task.TaskID())); err != nil {
		return fmt.Errorf("enqueue %s task %s: %w", task.Kind(), task.TaskID(), err)
	}
	return nil
}

func (q *NATSTaskQueue) Poll(ctx context.Context, queue api.TaskQueueName, kinds []api.TaskKind, wait time.Duration) (*TaskToken, error) {
	c, err := q.consumer(ctx, queue, kinds)
	if err != nil {
		return nil, err
	}

	deadline := q.now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		left := max(deadline.Sub(q.now()), minFetchWait)
		batch, err := c.Fetch(1, jetstream.FetchMaxWait(left))
		if err != nil {
			return nil, fmt.Errorf("fetch from %s: %w", queue, err)
		}

		var msg jetstream.Msg
		for m := range batch.Messages() {
			msg = m
		}
		if msg == nil {
			if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
				return nil, fmt.Errorf("fetch from %s: %w", queue, err)
			}
			return nil, nil
		}

		if notBefore, ok := q.notBefore(msg); ok {
			// not due yet; hand it back and keep waiting for due work
			if err := msg.NakWithDelay(notBefore); err != nil {
				q.conn.Logger().Warn("failed to delay task", "subject", msg.Subject(), "error", err)
			}
			if q.now().After(deadline) {
				return nil, nil
			}
			continue
		}
		return q.token(queue, msg), nil
	}
}

// notBefore returns the remaining delay of msg, if any.
func (q *NATSTaskQueue) notBefore(msg jetstream.Msg) (time.Duration, bool) {
	raw := msg.Headers().Get(api.TaskNotBeforeHeader)
	if raw == "" {
		return 0, false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	d := time.Unix(0, ns).Sub(q.now())
	return d, d > 0
}

func (q *NATSTaskQueue) token(queue api.TaskQueueName, msg jetstream.Msg) *TaskToken {
	token := &TaskToken{
		Queue:      queue,
		complete:   msg.DoubleAck,
		terminate:  func(context.Context) error { return msg.Term() },
		inProgress: func(context.Context) error { return msg.InProgress() },
		fail: func(_ context.Context, delay time.Duration) error {
			if delay > 0 {
				return msg.NakWithDelay(delay)
			}
			return msg.Nak()
		},
	}
	if md, err := msg.Metadata(); err == nil {
		token.Delivery = md.NumDelivered
	}

	task, err := api.NewTask(api.TaskKind(msg.Headers().Get(api.TaskKindHeader)))
	if err != nil {
		token.Malformed = err
		return token
	}
	if err := q.serde.DeserializeBinary(msg.Data(), task); err != nil {
		token.Malformed = fmt.Errorf("decode %s task: %w", task.Kind(), err)
		return token
	}
	token.Task = task
	return token
}

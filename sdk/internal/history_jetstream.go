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
	"strconv"
	"sync"

	"github.com/DeluxeOwl/chronicle/event"
	"github.com/DeluxeOwl/chronicle/version"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/api/serde"
)

var _ event.Log = (*JetStreamHistoryLog)(nil)

// JetStreamHistoryLog stores workflow histories in one JetStream stream per
// namespace. Every instance owns a single subject and every save is a single
// message carrying the whole batch, so a batch is appended atomically and the
// per-subject sequence guards concurrent writers.
type JetStreamHistoryLog struct {
	conn    *Conn
	serde   serde.BinarySerde
	storage jetstream.StorageType

	mu     sync.Mutex
	stream jetstream.Stream
}

type historyBatch struct {
	Events []historyBatchEvent `json:"events"`
}

type historyBatchEvent struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// NewJetStreamHistoryLog returns a history log on nc. The stream is created on
// first use.
func NewJetStreamHistoryLog(nc *nats.Conn, namespace string, s serde.BinarySerde) (*JetStreamHistoryLog, error) {
	conn, err := wrapExisting(nc, namespace, nil)
	if err != nil {
		return nil, err
	}
	return newJetStreamHistoryLog(conn, s, jetstream.FileStorage), nil
}

func newJetStreamHistoryLog(conn *Conn, s serde.BinarySerde, storage jetstream.StorageType) *JetStreamHistoryLog {
	if s == nil {
		s = serde.Default()
	}
	return &JetStreamHistoryLog{conn: conn, serde: s, storage: storage}
}

func (l *JetStreamHistoryLog) ensure(ctx context.Context) (jetstream.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stream != nil {
		return l.stream, nil
	}
	ns := l.conn.Namespace()
	stream, err := l.conn.EnsureStream(ctx, jetstream.StreamConfig{
		Name:              api.HistoryStreamName(ns),
		Subjects:          []string{api.HistoryStreamSubjects(ns)},
		Storage:           l.storage,
		Retention:         jetstream.LimitsPolicy,
		MaxMsgsPerSubject: -1,
	})
	if err != nil {
		return nil, err
	}
	l.stream = stream
	return stream, nil
}

// head returns the last version recorded on subject and the stream sequence
// of the message holding it.
func (l *JetStreamHistoryLog) head(ctx context.Context, stream jetstream.Stream, subject string) (version.Version, uint64, error) {
	msg, err := stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return version.Zero, 0, nil
		}
		return version.Zero, 0, fmt.Errorf("read history head: %w", err)
	}
	first, count, err := batchHeaders(msg.Header)
	if err != nil {
		return version.Zero, 0, err
	}
	return first + version.Version(count) - 1, msg.Sequence, nil
}

func (l *JetStreamHistoryLog) AppendEvents(
	ctx context.Context,
	id event.LogID,
	expected version.Check,
	events event.RawEvents,
) (version.Version, error) {
	if len(events) == 0 {
		return version.Zero, errors.New("append history: no events")
	}
	exp, ok := expected.(version.CheckExact)
	if !ok {
		return version.Zero, fmt.Errorf("append history: unsupported version check %T", expected)
	}

	stream, err := l.ensure(ctx)
	if err != nil {
		return version.Zero, err
	}
	subject := api.HistorySubject(l.conn.Namespace(), string(id))

	current, lastSeq, err := l.head(ctx, stream, subject)
	if err != nil {
		return version.Zero, err
	}
	if current != version.Version(exp) {
		return version.Zero, version.NewConflictError(version.Version(exp), current)
	}

	batch := historyBatch{Events: make([]historyBatchEvent, 0, len(events))}
	for i := range events {
		batch.Events = append(batch.Events, historyBatchEvent{Name: events[i].EventName(), Data: events[i].Data()})
	}
	data, err := l.serde.SerializeBinary(batch)
	if err != nil {
		return version.Zero, fmt.Errorf("encode history batch: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(api.HistoryVersionHeader, strconv.FormatUint(uint64(current)+1, 10))
	msg.Header.Set(api.HistoryEventsHeader, strconv.Itoa(len(events)))
	msg.Header.Set(api.HistoryWorkflowIDField, string(id))

	if _, err := l.conn.PublishMsg(ctx, msg, jetstream.WithExpectLastSequencePerSubject(lastSeq)); err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			actual, _, herr := l.head(ctx, stream, subject)
			if herr != nil {
				actual = current
			}
			return version.Zero, version.NewConflictError(version.Version(exp), actual)
		}
		return version.Zero, fmt.Errorf("append history: %w", err)
	}

	return current + version.Version(len(events)), nil
}

func (l *JetStreamHistoryLog) ReadEvents(ctx context.Context, id event.LogID, selector version.Selector) event.Records {
	return func(yield func(*event.Record, error) bool) {
		stream, err := l.ensure(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		subject := api.HistorySubject(l.conn.Namespace(), string(id))

		for seq := uint64(1); ; {
			msg, err := stream.GetMsg(ctx, seq, jetstream.WithGetMsgSubject(subject))
			if err != nil {
				if errors.Is(err, jetstream.ErrMsgNotFound) {
					return
				}
				yield(nil, fmt.Errorf("read history: %w", err))
				return
			}
			seq = msg.Sequence + 1

			first, _, err := batchHeaders(msg.Header)
			if err != nil {
				yield(nil, err)
				return
			}
			var batch historyBatch
			if err := l.serde.DeserializeBinary(msg.Data, &batch); err != nil {
				yield(nil, fmt.Errorf("decode history batch at seq %d: %w", msg.Sequence, err))
				return
			}

			for i, e := range batch.Events {
				v := first + version.Version(i)
				if v < selector.From {
					continue
				}
				if !yield(event.NewRecord(v, id, e.Name, e.Data), nil) {
					return
				}
			}
		}
	}
}

func batchHeaders(h nats.Header) (version.Version, int, error) {
	first, err := strconv.ParseUint(h.Get(api.HistoryVersionHeader), 10, 64)
	if err != nil || first == 0 {
		return version.Zero, 0, fmt.Errorf("history batch has invalid %s header %q", api.HistoryVersionHeader, h.Get(api.HistoryVersionHeader))
	}
	count, err := strconv.Atoi(h.Get(api.HistoryEventsHeader))
	if err != nil || count < 1 {
		return version.Zero, 0, fmt.Errorf("history batch has invalid %s header %q", api.HistoryEventsHeader, h.Get(api.HistoryEventsHeader))
	}
	return version.Version(first), count, nil
}

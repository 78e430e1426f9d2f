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

package api

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const DefaultNamespace = "default"

// NATS Stream Name Suffixes
const (
	TaskStreamSuffix    = "TASKS"
	HistoryStreamSuffix = "HISTORY"
	ResultBucketSuffix  = "RESULTS"
)

// NATS Subject Prefixes
const (
	TaskSubjectPrefix    = "tasks"
	HistorySubjectPrefix = "history"
)

// NATS Subject Formats
const (
	TaskSubjectPattern    = "%s." + TaskSubjectPrefix + ".%s.%s" // namespace, queue, kind
	HistorySubjectPattern = "%s." + HistorySubjectPrefix + ".%s" // namespace, encoded workflow id
)

// Consumer Names
const (
	WorkflowTaskWorkerConsumer = "worker-workflow-tasks"
	ActivityTaskWorkerConsumer = "worker-activity-tasks"
)

// JetStream Headers
const (
	TaskKindHeader         = "Hd-Task-Kind"
	TaskNotBeforeHeader    = "Hd-Not-Before"
	HistoryVersionHeader   = "Hd-History-Version"
	HistoryEventsHeader    = "Hd-History-Events"
	HistoryWorkflowIDField = "Hd-Workflow-Id"
)

// TaskStreamName returns the work-queue stream holding every task queue of a namespace.
func TaskStreamName(namespace string) string {
	return streamToken(namespace) + "_" + TaskStreamSuffix
}

// TaskStreamSubjects returns the subject filter of the namespace task stream.
func TaskStreamSubjects(namespace string) string {
	return fmt.Sprintf("%s.%s.>", namespace, TaskSubjectPrefix)
}

func TaskSubject(namespace string, queue TaskQueueName, kind TaskKind) string {
	return fmt.Sprintf(TaskSubjectPattern, namespace, queue, kind)
}

// TaskConsumerName names the durable consumer shared by all workers polling
// the same queue for the same kind group.
func TaskConsumerName(queue TaskQueueName, group string) string {
	return fmt.Sprintf("%s-%s", group, streamToken(string(queue)))
}

// ResultBucketName returns the KV bucket where closed instances announce
// their terminal status.
func ResultBucketName(namespace string) string {
	return streamToken(namespace) + "_" + ResultBucketSuffix
}

// ResultKey maps a workflow id onto a KV key.
func ResultKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func HistoryStreamName(namespace string) string {
	return streamToken(namespace) + "_" + HistoryStreamSuffix
}

func HistoryStreamSubjects(namespace string) string {
	return fmt.Sprintf("%s.%s.>", namespace, HistorySubjectPrefix)
}

// HistorySubject maps a workflow id onto a single subject token. Ids are
// base64url encoded because they may contain dots or wildcards.
func HistorySubject(namespace string, id string) string {
	return fmt.Sprintf(HistorySubjectPattern, namespace, base64.RawURLEncoding.EncodeToString([]byte(id)))
}

// ValidSubjectToken reports whether s can be used as a single NATS subject token.
func ValidSubjectToken(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, ". *>\t\r\n")
}

func streamToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '/', '\\', '\t':
			return '_'
		}
		return r
	}, strings.ToUpper(s))
}

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

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hellodurable"

type workerMetrics struct {
	polls          *prometheus.CounterVec
	taskOutcomes   *prometheus.CounterVec
	inflight       *prometheus.GaugeVec
	fatalErrors    prometheus.Counter
	nondeterminism prometheus.Counter

	workflowTaskLatency prometheus.Histogram
	activityLatency     *prometheus.HistogramVec
	activityAttempts    *prometheus.CounterVec
	activityRetries     *prometheus.CounterVec
	activityTimeouts    *prometheus.CounterVec
}

// newWorkerMetrics registers the worker collectors on reg. Workers sharing a
// registerer share collectors. A nil reg keeps the collectors private.
func newWorkerMetrics(reg prometheus.Registerer) *workerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &workerMetrics{
		polls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "worker",
			Name:      "polls_total",
			Help:      "Task queue polls by kind group and result (task, empty, error).",
		}, []string{"task_queue", "group", "result"})),
		taskOutcomes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Handled tasks by kind and outcome.",
		}, []string{"task_queue", "kind", "outcome"})),
		inflight: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "worker",
			Name:      "inflight_tasks",
			Help:      "Tasks currently being handled.",
		}, []string{"task_queue", "kind"})),
		fatalErrors: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "worker",
			Name:      "fatal_errors_total",
			Help:      "Tasks naming unregistered types or carrying malformed payloads.",
		})),
		nondeterminism: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "workflow",
			Name:      "nondeterminism_total",
			Help:      "Workflow replays that diverged from recorded history.",
		})),
		workflowTaskLatency: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "workflow",
			Name:      "task_duration_seconds",
			Help:      "Time to load, replay and save one workflow task.",
			Buckets:   prometheus.DefBuckets,
		})),
		activityLatency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "execution_duration_seconds",
			Help:      "Duration of single activity attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"activity_type"})),
		activityAttempts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "attempts_total",
			Help:      "Activity attempts started.",
		}, []string{"activity_type"})),
		activityRetries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "retries_total",
			Help:      "Activity attempts that failed and were scheduled again.",
		}, []string{"activity_type"})),
		activityTimeouts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "timeouts_total",
			Help:      "Invocations resolved as ActivityTimeout.",
		}, []string{"activity_type"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

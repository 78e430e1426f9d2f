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

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/DeluxeOwl/chronicle/event"
	"github.com/DeluxeOwl/chronicle/eventlog"
	"github.com/cockroachdb/pebble"
	"github.com/nats-io/nats.go"
	"github.com/ngnhng/hellodurable/examples/greeting"
	"github.com/ngnhng/hellodurable/internal/config"
	"github.com/ngnhng/hellodurable/internal/httpserver"
	"github.com/ngnhng/hellodurable/sdk/client"
	sdkconfig "github.com/ngnhng/hellodurable/sdk/config"
	"github.com/ngnhng/hellodurable/sdk/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Manager owns the process components and their shutdown order.
type Manager struct {
	cfg      *config.Config
	logger   *slog.Logger
	conn     *nats.Conn
	pebble   *pebble.DB
	registry *prometheus.Registry
	client   client.Client
	worker   worker.Worker
	http     *httpserver.Server

	greet string
	out   io.Writer
}

func NewManager(ctx context.Context, cfg *config.Config, logger *slog.Logger) (m *Manager, err error) {
	m = &Manager{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			m.Shutdown()
		}
	}()

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Transport == config.TransportNATS {
		m.conn, err = sdkconfig.Connect(&cfg.Config, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		if !m.conn.IsConnected() {
			return nil, errors.New("cannot connect to NATS instance")
		}
	}

	historyLog, err := m.openHistory()
	if err != nil {
		return nil, err
	}

	codec, err := cfg.Serde()
	if err != nil {
		return nil, err
	}
	m.client, err = client.NewClient(&client.Options{
		Namespace:  cfg.Namespace,
		Serde:      codec,
		Conn:       m.conn,
		HistoryLog: historyLog,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	wopts := cfg.WorkerOptions(logger)
	wopts.MetricsRegisterer = m.registry
	m.worker, err = worker.NewWorker(m.client, wopts)
	if err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}
	if err := greeting.Register(m.worker); err != nil {
		return nil, err
	}

	m.http = httpserver.New(httpserver.Options{
		Addr:           cfg.HTTPAddr(),
		Client:         m.client,
		Workflow:       greeting.GetGreeting,
		TaskQueue:      cfg.Worker.TaskQueue,
		Gatherer:       m.registry,
		Checks:         m.checks(),
		RequestTimeout: cfg.Timeouts.RequestTimeout,
		Logger:         logger,
	})
	return m, nil
}

// openHistory returns nil when the client default fits the transport.
func (m *Manager) openHistory() (event.Log, error) {
	switch m.cfg.History.Backend {
	case config.HistoryPebble:
		db, err := pebble.Open(m.cfg.History.PebbleDir, &pebble.Options{})
		if err != nil {
			return nil, fmt.Errorf("open pebble history at %s: %w", m.cfg.History.PebbleDir, err)
		}
		m.pebble = db
		m.logger.Info("history backend", "backend", "pebble", "dir", m.cfg.History.PebbleDir)
		return eventlog.NewPebble(db), nil
	case config.HistoryJetStream:
		m.logger.Info("history backend", "backend", "jetstream")
		return nil, nil
	default:
		m.logger.Info("history backend", "backend", "memory")
		return eventlog.NewMemory(), nil
	}
}

func (m *Manager) checks() map[string]httpserver.CheckFunc {
	checks := map[string]httpserver.CheckFunc{
		"worker": func(context.Context) error { return m.worker.Healthy() },
	}
	if m.conn != nil {
		checks["nats"] = func(context.Context) error {
			if !m.conn.IsConnected() {
				return fmt.Errorf("nats %s", m.conn.Status())
			}
			return nil
		}
	}
	return checks
}

// Run serves until ctx ends or a component fails. With a greet name it
// starts one greeting workflow, writes the result and returns.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.logger.Info("starting worker", "task_queue", m.cfg.Worker.TaskQueue)
		return m.worker.Run(gCtx)
	})

	if m.greet == "" {
		g.Go(func() error {
			return m.http.Start(gCtx)
		})
	} else {
		g.Go(func() error {
			defer cancel()
			return m.runGreeting(gCtx)
		})
	}

	err := g.Wait()

	m.logger.Info("initiating graceful shutdown")
	m.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("manager stopped with error", "error", err)
		return err
	}
	m.logger.Info("manager shutdown complete")
	return nil
}

func (m *Manager) runGreeting(ctx context.Context) error {
	run, err := m.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: m.cfg.Worker.TaskQueue,
	}, greeting.GetGreeting, m.greet)
	if err != nil {
		return fmt.Errorf("start greeting: %w", err)
	}
	var result string
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("greeting %s: %w", run.ID(), err)
	}
	m.logger.Info("greeting completed", "workflow_id", run.ID(), "result", result)
	if m.out != nil {
		_, err = fmt.Fprintln(m.out, result)
	}
	return err
}

// Shutdown releases the client, the history store and the NATS connection.
// It is safe to call more than once.
func (m *Manager) Shutdown() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		_ = m.client.Close()
	}
	if m.pebble != nil {
		if err := m.pebble.Close(); err != nil {
			m.logger.Error("failed to close pebble history", "error", err)
		}
		m.pebble = nil
	}
	if m.conn != nil {
		m.logger.Info("draining NATS connection")
		if err := m.conn.Drain(); err != nil {
			m.conn.Close()
		}
		m.conn = nil
	}
}

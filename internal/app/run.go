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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ngnhng/hellodurable/internal/config"
	"github.com/ngnhng/hellodurable/internal/logger"
)

// Options are command-line overrides applied over the environment.
type Options struct {
	NATSHost  string
	NATSPort  string
	HTTPPort  string
	TaskQueue string
	Transport string
	History   string
	// Greet runs one greeting workflow for this name and exits.
	Greet string
	Out   io.Writer
}

func (o Options) apply(cfg *config.Config) {
	if o.NATSHost != "" {
		cfg.NATS.Host = o.NATSHost
	}
	if o.NATSPort != "" {
		cfg.NATS.Port = o.NATSPort
	}
	if o.NATSHost != "" || o.NATSPort != "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}
	if o.HTTPPort != "" {
		cfg.Server.Port = o.HTTPPort
	}
	if o.TaskQueue != "" {
		cfg.Worker.TaskQueue = o.TaskQueue
	}
	if o.Transport != "" {
		cfg.Transport = o.Transport
	}
	if o.History != "" {
		cfg.History.Backend = o.History
	}
}

func Run(ctx context.Context, opts Options) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer func() { _ = cfg.CloseLogFiles() }()

	log, err := logger.NewLogger(ctx, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log.Slogger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := log.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down logger provider", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := NewManager(ctx, cfg, log.Slogger)
	if err != nil {
		return err
	}
	mgr.greet = opts.Greet
	mgr.out = opts.Out
	if mgr.out == nil {
		mgr.out = os.Stdout
	}

	log.Slogger.Info("manager is running",
		"service", cfg.ServiceName(),
		"version", cfg.GetVersion(),
		"transport", cfg.Transport,
		"history", cfg.History.Backend,
	)
	return mgr.Run(ctx)
}

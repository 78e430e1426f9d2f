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

package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	sdkconfig "github.com/ngnhng/hellodurable/sdk/config"
)

// Mode selects between the developer console logger and structured output.
type Mode string

const (
	ModeDebug   Mode = "debug"
	ModeRelease Mode = "release"
)

// Transport selects where tasks and close notifications travel.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// History backends.
const (
	HistoryMemory    = "memory"
	HistoryPebble    = "pebble"
	HistoryJetStream = "jetstream"
)

const DefaultRequestTimeout = 10 * time.Second

// Config holds the complete process configuration.
type Config struct {
	sdkconfig.Config

	Service   string        `json:"service_name" env:"APP_NAME"  envDefault:"hellodurable"`
	Version   string        `json:"version"      env:"VERSION"   envDefault:"v0.1.0"`
	Mode      Mode          `json:"mode"         env:"MODE"      envDefault:"debug"`
	Transport string        `json:"transport"    env:"TRANSPORT" envDefault:"memory"`
	Server    ServerConfig  `json:"server"       envPrefix:"SERVER_"`
	History   HistoryConfig `json:"history"      envPrefix:"HISTORY_"`
	Timeouts  TimeoutConfig `json:"timeouts"     envPrefix:"TIMEOUTS_"`
	Logger    LoggerConfig  `json:"logger"       envPrefix:"LOG_"`
}

type ServerConfig struct {
	Host string `json:"host" env:"HOST" envDefault:"localhost"`
	Port string `json:"port" env:"PORT" envDefault:"8080"`
}

// HistoryConfig picks the event log that backs workflow histories.
type HistoryConfig struct {
	Backend   string `json:"backend"    env:"BACKEND"    envDefault:"memory"`
	PebbleDir string `json:"pebble_dir" env:"PEBBLE_DIR" envDefault:"./data/history"`
}

// TimeoutConfig holds timeout-related configuration
type TimeoutConfig struct {
	RequestTimeout time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// LoadConfig reads the environment over the SDK defaults.
func LoadConfig() (*Config, error) {
	cfg := Config{
		Config: sdkconfig.Default(),
		Timeouts: TimeoutConfig{
			RequestTimeout: DefaultRequestTimeout,
		},
	}
	cfg.NATS.ClientName = "hellodurable"

	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}

	return &cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Service == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	switch c.Mode {
	case ModeDebug, ModeRelease:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", c.Mode))
	}

	switch c.Transport {
	case TransportMemory:
	case TransportNATS:
		errs = append(errs, c.validateNATS()...)
	default:
		errs = append(errs, fmt.Errorf("invalid transport %q", c.Transport))
	}

	switch c.History.Backend {
	case HistoryMemory:
	case HistoryPebble:
		if strings.TrimSpace(c.History.PebbleDir) == "" {
			errs = append(errs, errors.New("pebble history requires a directory"))
		}
	case HistoryJetStream:
		if c.Transport != TransportNATS {
			errs = append(errs, errors.New("jetstream history requires the nats transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid history backend %q", c.History.Backend))
	}
	if c.Transport == TransportMemory && c.History.Backend == HistoryPebble {
		// tasks would not survive a restart while their histories do
		errs = append(errs, errors.New("pebble history requires the nats transport"))
	}

	if c.Server.Host == "" {
		errs = append(errs, errors.New("server host is required"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	} else if !validPort(c.Server.Port) {
		errs = append(errs, fmt.Errorf("invalid server port %q", c.Server.Port))
	}

	if c.Worker.TaskQueue == "" {
		errs = append(errs, errors.New("worker task queue is required"))
	}
	if c.Activity.ScheduleToCloseTimeout <= 0 {
		errs = append(errs, errors.New("activity schedule-to-close timeout must be positive"))
	}
	if c.Retry.BackoffCoefficient != 0 && c.Retry.BackoffCoefficient < 1 {
		errs = append(errs, errors.New("retry backoff coefficient must be >= 1"))
	}
	if c.Retry.MaximumAttempts < 0 {
		errs = append(errs, errors.New("retry maximum attempts must be >= 0"))
	}
	if _, err := c.Serde(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) validateNATS() []error {
	var errs []error
	if c.NATS.Host == "" {
		errs = append(errs, errors.New("NATS host is required"))
	}
	if c.NATS.Port == "" {
		errs = append(errs, errors.New("NATS port is required"))
	} else if !validPort(c.NATS.Port) {
		errs = append(errs, fmt.Errorf("invalid NATS port %q", c.NATS.Port))
	}
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("NATS URL is required"))
	}
	if c.NATS.MaxReconnects < -1 {
		errs = append(errs, errors.New("NATS max reconnects must be >= -1"))
	}
	if c.NATS.ReconnectWait <= 0 {
		errs = append(errs, errors.New("NATS reconnect wait must be positive"))
	}
	if c.NATS.DrainTimeout <= 0 {
		errs = append(errs, errors.New("NATS drain timeout must be positive"))
	}
	return errs
}

func validPort(p string) bool {
	n, err := strconv.Atoi(p)
	return err == nil && n > 0 && n <= 65535
}

// HTTPAddr is the listen address of the HTTP surface.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

func (c *Config) ServiceName() string {
	return c.Service
}

func (c *Config) GetVersion() string {
	return c.Version
}

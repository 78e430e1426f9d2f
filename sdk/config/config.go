package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/ngnhng/hellodurable/api/serde"
	"github.com/ngnhng/hellodurable/sdk/internal"
)

// Default configuration constants tuned for SDK clients.
const (
	DefaultNATSHost = "localhost"
	DefaultNATSPort = "4222"

	DefaultDrainTimeout  = 30 * time.Second
	DefaultReconnectWait = 2 * time.Second
	DefaultPingInterval  = 2 * time.Minute

	DefaultMaxReconnects = -1 // reconnect forever
	DefaultMaxPingsOut   = 2

	DefaultScheduleToCloseTimeout = time.Minute
)

// NATSConfig holds NATS-specific configuration knobs for the SDK.
type NATSConfig struct {
	URL           string        `json:"url"             env:"URL"`
	Host          string        `json:"host"            env:"HOST"`
	Port          string        `json:"port"            env:"PORT"`
	MaxReconnects int           `json:"max_reconnects"  env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `json:"reconnect_wait"  env:"RECONNECT_WAIT"`
	DrainTimeout  time.Duration `json:"drain_timeout"   env:"DRAIN_TIMEOUT"`
	PingInterval  time.Duration `json:"ping_interval"   env:"PING_INTERVAL"`
	MaxPingsOut   int           `json:"max_pings_out"   env:"MAX_PINGS_OUT"`
	ClientName    string        `json:"client_name"     env:"CLIENT_NAME"`
}

// ActivityConfig holds the defaults used for activities scheduled without
// explicit options.
type ActivityConfig struct {
	ScheduleToCloseTimeout time.Duration `json:"schedule_to_close_timeout" env:"SCHEDULE_TO_CLOSE_TIMEOUT"`
	StartToCloseTimeout    time.Duration `json:"start_to_close_timeout"    env:"START_TO_CLOSE_TIMEOUT"`
}

// RetryConfig mirrors RetryPolicy. MaximumAttempts of zero leaves the
// schedule-to-close budget as the only bound.
type RetryConfig struct {
	InitialInterval    time.Duration `json:"initial_interval"    env:"INITIAL_INTERVAL"`
	BackoffCoefficient float64       `json:"backoff_coefficient" env:"BACKOFF_COEFFICIENT"`
	MaximumInterval    time.Duration `json:"maximum_interval"    env:"MAXIMUM_INTERVAL"`
	MaximumAttempts    int32         `json:"maximum_attempts"    env:"MAXIMUM_ATTEMPTS"`
	NonRetryable       []string      `json:"non_retryable"       env:"NON_RETRYABLE" envSeparator:","`
}

// WorkerConfig holds worker runtime knobs.
type WorkerConfig struct {
	TaskQueue                  string        `json:"task_queue"                    env:"TASK_QUEUE"`
	Pollers                    int           `json:"pollers"                       env:"POLLERS"`
	MaxConcurrentWorkflowTasks int           `json:"max_concurrent_workflow_tasks" env:"MAX_CONCURRENT_WORKFLOW_TASKS"`
	MaxConcurrentActivityTasks int           `json:"max_concurrent_activity_tasks" env:"MAX_CONCURRENT_ACTIVITY_TASKS"`
	PollTimeout                time.Duration `json:"poll_timeout"                  env:"POLL_TIMEOUT"`
	StopTimeout                time.Duration `json:"stop_timeout"                  env:"STOP_TIMEOUT"`
	NondeterminismRetryDelay   time.Duration `json:"nondeterminism_retry_delay"    env:"NONDETERMINISM_RETRY_DELAY"`
}

// Config is the public SDK configuration users can construct or load from env.
type Config struct {
	Namespace string         `json:"namespace" env:"NAMESPACE"`
	// Codec encodes history events and task payloads: msgpack or json.
	Codec     string         `json:"codec"     env:"CODEC"`
	NATS      NATSConfig     `json:"nats"      envPrefix:"NATS_"`
	Worker    WorkerConfig   `json:"worker"    envPrefix:"WORKER_"`
	Activity  ActivityConfig `json:"activity"  envPrefix:"ACTIVITY_"`
	Retry     RetryConfig    `json:"retry"     envPrefix:"RETRY_"`
}

// Default returns the configuration Load starts from.
func Default() Config {
	retry := internal.DefaultRetryPolicy()
	return Config{
		Namespace: "default",
		Codec:     serde.MsgpackName,
		NATS: NATSConfig{
			Host:          DefaultNATSHost,
			Port:          DefaultNATSPort,
			MaxReconnects: DefaultMaxReconnects,
			ReconnectWait: DefaultReconnectWait,
			DrainTimeout:  DefaultDrainTimeout,
			PingInterval:  DefaultPingInterval,
			MaxPingsOut:   DefaultMaxPingsOut,
			ClientName:    "hellodurable-sdk",
		},
		Worker: WorkerConfig{
			TaskQueue:                  "hello-durable",
			Pollers:                    internal.DefaultPollers,
			MaxConcurrentWorkflowTasks: internal.DefaultMaxConcurrentWorkflowTasks,
			MaxConcurrentActivityTasks: internal.DefaultMaxConcurrentActivityTasks,
			PollTimeout:                internal.DefaultPollTimeout,
			StopTimeout:                internal.DefaultStopTimeout,
			NondeterminismRetryDelay:   internal.DefaultNondeterminismRetryDelay,
		},
		Activity: ActivityConfig{
			ScheduleToCloseTimeout: DefaultScheduleToCloseTimeout,
		},
		Retry: RetryConfig{
			InitialInterval:    retry.InitialInterval,
			BackoffCoefficient: retry.BackoffCoefficient,
			MaximumInterval:    retry.MaximumInterval,
			MaximumAttempts:    retry.MaximumAttempts,
		},
	}
}

// Load loads configuration from environment variables applying defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}
	return &cfg, nil
}

// Serde resolves the configured codec.
func (c *Config) Serde() (serde.BinarySerde, error) {
	return serde.ByName(c.Codec)
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() *internal.RetryPolicy {
	return &internal.RetryPolicy{
		InitialInterval:        c.Retry.InitialInterval,
		BackoffCoefficient:     c.Retry.BackoffCoefficient,
		MaximumInterval:        c.Retry.MaximumInterval,
		MaximumAttempts:        c.Retry.MaximumAttempts,
		NonRetryableErrorTypes: c.Retry.NonRetryable,
	}
}

// ActivityOptions returns activity options built from the configured
// activity and retry defaults.
func (c *Config) ActivityOptions() internal.ActivityOptions {
	return internal.ActivityOptions{
		ScheduleToCloseTimeout: c.Activity.ScheduleToCloseTimeout,
		StartToCloseTimeout:    c.Activity.StartToCloseTimeout,
		RetryPolicy:            c.RetryPolicy(),
	}
}

// WorkerOptions returns worker options for the configured task queue.
func (c *Config) WorkerOptions(logger *slog.Logger) internal.WorkerOptions {
	return internal.WorkerOptions{
		TaskQueue:                  c.Worker.TaskQueue,
		Pollers:                    c.Worker.Pollers,
		MaxConcurrentWorkflowTasks: c.Worker.MaxConcurrentWorkflowTasks,
		MaxConcurrentActivityTasks: c.Worker.MaxConcurrentActivityTasks,
		PollTimeout:                c.Worker.PollTimeout,
		StopTimeout:                c.Worker.StopTimeout,
		NondeterminismRetryDelay:   c.Worker.NondeterminismRetryDelay,
		Logger:                     logger,
	}
}

// Connect dials NATS with the configured connection knobs.
func Connect(cfg *Config, logger *slog.Logger) (*nats.Conn, error) {
	return internal.Connect(cfg, logger)
}

// Interface implementation for internal JetStream connection.
func (c *Config) Endpoint() string                 { return c.NATS.URL }
func (c *Config) NATSMaxReconnects() int           { return c.NATS.MaxReconnects }
func (c *Config) NATSReconnectWait() time.Duration { return c.NATS.ReconnectWait }
func (c *Config) NATSDrainTimeout() time.Duration  { return c.NATS.DrainTimeout }
func (c *Config) NATSPingInterval() time.Duration  { return c.NATS.PingInterval }
func (c *Config) NATSMaxPingsOut() int             { return c.NATS.MaxPingsOut }
func (c *Config) NATSClientName() string           { return c.NATS.ClientName }

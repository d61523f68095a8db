// Package config loads and validates Fathom runtime configuration from a YAML
// file plus environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the runtime.
const (
	EnvAPIKey          = "OPENAI_API_KEY"
	EnvWorkspaceRoot   = "FATHOM_WORKSPACE_ROOT"
	EnvTaskParallelism = "FATHOM_TASK_PARALLELISM"
	EnvConfigPath      = "FATHOM_CONFIG"
)

// Config is the top-level runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Session   SessionConfig   `yaml:"session"`
	Events    EventsConfig    `yaml:"events"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Cron      []CronRule      `yaml:"cron"`
}

// ServerConfig configures the gRPC and metrics listeners.
type ServerConfig struct {
	// Addr is the gRPC listen address (host:port).
	Addr string `yaml:"addr"`
	// MetricsAddr is the HTTP listen address for /metrics and /healthz.
	// Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ModelConfig configures the model orchestrator.
type ModelConfig struct {
	// APIKey is read from OPENAI_API_KEY; it cannot be set in the file.
	APIKey string `yaml:"-"`
	// Model is the chat model identifier.
	Model string `yaml:"model"`
	// MaxRetries bounds retries of transient failures per turn.
	MaxRetries int `yaml:"max_retries"`
	// TurnTimeout is the per-turn deadline for the streaming call.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string `yaml:"base_url"`
}

// TasksConfig configures the background task scheduler.
type TasksConfig struct {
	// Parallelism is W: the process-wide cap on concurrently Running tasks.
	Parallelism int `yaml:"parallelism"`
}

// WorkspaceConfig bounds fs:// resolution.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// SessionConfig tunes the turn engine.
type SessionConfig struct {
	// HistoryWindow is the number of recent history entries included in the
	// prompt bundle.
	HistoryWindow int `yaml:"history_window"`
	// ModelCallOnRefreshOnly invokes the model even when a snapshot contains
	// only RefreshProfile triggers. Default false: such turns commit without
	// a model call.
	ModelCallOnRefreshOnly bool `yaml:"model_call_on_refresh_only"`
	// RequeueOnFailure re-enqueues a failed turn's snapshot instead of
	// dropping it.
	RequeueOnFailure bool `yaml:"requeue_on_failure"`
	// InboxBuffer is the session actor's command inbox capacity.
	InboxBuffer int `yaml:"inbox_buffer"`
}

// EventsConfig tunes the per-session event bus.
type EventsConfig struct {
	// Retention is the ring-buffer size of retained events per session.
	Retention int `yaml:"retention"`
	// SubscriberBuffer bounds each subscriber's channel; a subscriber that
	// stays full beyond it is dropped with a lag error.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// HeartbeatConfig enables periodic Heartbeat triggers for every session.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// CronRule fires Cron triggers into every live session of AgentID, or into
// every live session when AgentID is empty.
type CronRule struct {
	ID       string `yaml:"id"`
	Schedule string `yaml:"schedule"`
	AgentID  string `yaml:"agent_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:50051",
		},
		Model: ModelConfig{
			Model:       "gpt-4o",
			MaxRetries:  3,
			TurnTimeout: 120 * time.Second,
		},
		Tasks:     TasksConfig{Parallelism: 4},
		Workspace: WorkspaceConfig{Root: "."},
		Session: SessionConfig{
			HistoryWindow: 80,
			InboxBuffer:   128,
		},
		Events: EventsConfig{
			Retention:        1024,
			SubscriberBuffer: 256,
		},
		Heartbeat: HeartbeatConfig{Interval: time.Minute},
	}
}

// Load reads the config file at path (optional), then applies environment
// overrides and defaults. An empty path falls back to FATHOM_CONFIG; no file
// at all is fine, the defaults stand alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Model.APIKey = strings.TrimSpace(os.Getenv(EnvAPIKey))
	if root := os.Getenv(EnvWorkspaceRoot); root != "" {
		c.Workspace.Root = root
	}
	if raw := os.Getenv(EnvTaskParallelism); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			c.Tasks.Parallelism = n
		}
	}
}

// Validate checks invariants and fills remaining defaults.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Tasks.Parallelism <= 0 {
		return fmt.Errorf("tasks.parallelism must be positive")
	}
	if c.Session.HistoryWindow <= 0 {
		c.Session.HistoryWindow = 80
	}
	if c.Session.InboxBuffer <= 0 {
		c.Session.InboxBuffer = 128
	}
	if c.Events.Retention <= 0 {
		c.Events.Retention = 1024
	}
	if c.Events.SubscriberBuffer <= 0 {
		c.Events.SubscriberBuffer = 256
	}
	if c.Model.MaxRetries < 0 {
		return fmt.Errorf("model.max_retries must be >= 0")
	}
	if c.Model.TurnTimeout <= 0 {
		c.Model.TurnTimeout = 120 * time.Second
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive when enabled")
	}
	seen := make(map[string]struct{}, len(c.Cron))
	for _, rule := range c.Cron {
		if strings.TrimSpace(rule.ID) == "" || strings.TrimSpace(rule.Schedule) == "" {
			return fmt.Errorf("cron rules require id and schedule")
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("duplicate cron rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return nil
}

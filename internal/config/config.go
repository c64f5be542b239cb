// Copyright 2025 Tom Barlow
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

// Package config loads daemon configuration from a YAML file with
// environment variable overrides. Defaults are usable out of the box; a
// missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/relay/pkg/errors"
)

// Config is the complete daemon configuration.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Runner  RunnerConfig  `yaml:"runner"`
	Webhook WebhookConfig `yaml:"webhook"`
	RSS     RSSConfig     `yaml:"rss"`
	RPC     RPCConfig     `yaml:"rpc"`
	Tracing TracingConfig `yaml:"tracing"`
	Daemon  DaemonConfig  `yaml:"daemon"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	// Addr is the TCP address to bind.
	// Environment: RELAY_LISTEN_ADDR
	// Default: ":8420"
	Addr string `yaml:"addr"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	// Environment: RELAY_DB_PATH
	// Default: "relay.db"
	Path string `yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Environment: RELAY_LOG_LEVEL
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Environment: RELAY_LOG_FORMAT
	// Default: "json"
	Format string `yaml:"format"`
}

// RunnerConfig configures execution concurrency.
type RunnerConfig struct {
	// MaxParallel caps concurrently running executions; submissions past
	// the cap queue.
	// Default: 10
	MaxParallel int `yaml:"max_parallel"`
}

// WebhookConfig configures webhook intake.
type WebhookConfig struct {
	// Secret is the fallback HMAC secret used when an automation's
	// webhook trigger carries none.
	// Environment: RELAY_WEBHOOK_SECRET
	Secret string `yaml:"secret,omitempty"`

	// RatePerMinute limits deliveries per automation. 0 disables limiting.
	// Default: 60
	RatePerMinute int `yaml:"rate_per_minute"`
}

// RSSConfig configures feed polling.
type RSSConfig struct {
	// SeenCap bounds the per-automation seen-item set.
	// Default: 100
	SeenCap int `yaml:"seen_cap"`

	// UserAgent overrides the poller's User-Agent header.
	UserAgent string `yaml:"user_agent,omitempty"`
}

// RPCConfig configures the tool-discovery endpoint.
type RPCConfig struct {
	// Path is where the MCP endpoint mounts.
	// Default: "/rpc"
	Path string `yaml:"path"`

	// Name is the advertised server name.
	// Default: "relay"
	Name string `yaml:"name"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Enabled turns on span export to stdout. Off by default; span
	// creation is free when no exporter is installed.
	Enabled bool `yaml:"enabled"`
}

// DaemonConfig configures process lifecycle.
type DaemonConfig struct {
	// PIDFile is the path to the PID file. Empty means no PID file.
	// Environment: RELAY_PID_FILE
	PIDFile string `yaml:"pid_file,omitempty"`

	// ShutdownGrace is how long shutdown waits for in-flight executions
	// to reach a commit boundary before forcing exit.
	// Default: 30s
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Addr: ":8420"},
		Store:   StoreConfig{Path: "relay.db"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Runner:  RunnerConfig{MaxParallel: 10},
		Webhook: WebhookConfig{RatePerMinute: 60},
		RSS:     RSSConfig{SeenCap: 100},
		RPC:     RPCConfig{Path: "/rpc", Name: "relay"},
		Daemon:  DaemonConfig{ShutdownGrace: 30 * time.Second},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. An empty path or a missing file yields defaults
// plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, errors.Wrapf(err, "reading config %s", path)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parsing config %s", path)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_LISTEN_ADDR"); v != "" {
		cfg.Listen.Addr = v
	}
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RELAY_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("RELAY_PID_FILE"); v != "" {
		cfg.Daemon.PIDFile = v
	}
	if v := os.Getenv("RELAY_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.MaxParallel = n
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Listen.Addr == "" {
		return &errors.ConfigError{Key: "listen.addr", Reason: "listen address cannot be empty"}
	}
	if c.Store.Path == "" {
		return &errors.ConfigError{Key: "store.path", Reason: "store path cannot be empty"}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &errors.ConfigError{
			Key:    "log.level",
			Reason: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", c.Log.Level),
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return &errors.ConfigError{
			Key:    "log.format",
			Reason: fmt.Sprintf("invalid log format %q (must be json or text)", c.Log.Format),
		}
	}
	if c.Runner.MaxParallel <= 0 {
		return &errors.ConfigError{Key: "runner.max_parallel", Reason: "max_parallel must be positive"}
	}
	if c.Webhook.RatePerMinute < 0 {
		return &errors.ConfigError{Key: "webhook.rate_per_minute", Reason: "rate_per_minute cannot be negative"}
	}
	if c.RSS.SeenCap <= 0 {
		return &errors.ConfigError{Key: "rss.seen_cap", Reason: "seen_cap must be positive"}
	}
	if c.RPC.Path == "" || c.RPC.Path[0] != '/' {
		return &errors.ConfigError{
			Key:    "rpc.path",
			Reason: fmt.Sprintf("rpc path %q must start with /", c.RPC.Path),
		}
	}
	if c.Daemon.ShutdownGrace <= 0 {
		return &errors.ConfigError{Key: "daemon.shutdown_grace", Reason: "shutdown_grace must be positive"}
	}
	return nil
}

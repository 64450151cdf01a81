// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with the precedence
// environment > YAML file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Integrity check modes run at startup against the sqlite file.
const (
	VerifyOff   = "off"
	VerifyQuick = "quick"
	VerifyFull  = "full"
)

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Engine  EngineConfig  `yaml:"engine"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver          string `yaml:"driver"`
	SQLitePath      string `yaml:"sqlite_path"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	VerifyIntegrity string `yaml:"verify_integrity"`
}

// RedisConfig enables the Redis-backed cache and rate-limit store. An empty
// Addr keeps both in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig tunes release controllers.
type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// WebhookConfig tunes the webhook dispatcher.
type WebhookConfig struct {
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Service: "waitgate",
		},
		Store: StoreConfig{
			Driver:          DriverSQLite,
			SQLitePath:      "waitgate.db",
			VerifyIntegrity: VerifyQuick,
		},
		Engine: EngineConfig{
			TickInterval: 1 * time.Second,
		},
		Webhook: WebhookConfig{
			Workers:        4,
			MaxAttempts:    3,
			InitialBackoff: 1 * time.Second,
			Timeout:        30 * time.Second,
			RatePerSecond:  20,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty the file must exist), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.mergeEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeEnv() {
	c.Server.Listen = ParseString("WAITGATE_LISTEN", c.Server.Listen)
	c.Server.ReadTimeout = ParseDuration("WAITGATE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = ParseDuration("WAITGATE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = ParseDuration("WAITGATE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Log.Level = ParseString("WAITGATE_LOG_LEVEL", c.Log.Level)
	c.Log.Service = ParseString("WAITGATE_LOG_SERVICE", c.Log.Service)

	c.Store.Driver = ParseString("WAITGATE_STORE_DRIVER", c.Store.Driver)
	c.Store.SQLitePath = ParseString("WAITGATE_SQLITE_PATH", c.Store.SQLitePath)
	c.Store.PostgresDSN = ParseString("WAITGATE_POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.VerifyIntegrity = ParseString("WAITGATE_VERIFY_INTEGRITY", c.Store.VerifyIntegrity)

	c.Redis.Addr = ParseString("WAITGATE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = ParseString("WAITGATE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = ParseInt("WAITGATE_REDIS_DB", c.Redis.DB)

	c.Engine.TickInterval = ParseDuration("WAITGATE_TICK_INTERVAL", c.Engine.TickInterval)

	c.Webhook.Workers = ParseInt("WAITGATE_WEBHOOK_WORKERS", c.Webhook.Workers)
	c.Webhook.MaxAttempts = ParseInt("WAITGATE_WEBHOOK_MAX_ATTEMPTS", c.Webhook.MaxAttempts)
	c.Webhook.InitialBackoff = ParseDuration("WAITGATE_WEBHOOK_BACKOFF", c.Webhook.InitialBackoff)
	c.Webhook.Timeout = ParseDuration("WAITGATE_WEBHOOK_TIMEOUT", c.Webhook.Timeout)
	c.Webhook.RatePerSecond = ParseFloat("WAITGATE_WEBHOOK_RATE", c.Webhook.RatePerSecond)
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("config: store.sqlite_path must be set for the %s driver", DriverSQLite)
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn must be set for the %s driver", DriverPostgres)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Store.VerifyIntegrity {
	case VerifyOff, VerifyQuick, VerifyFull:
	default:
		return fmt.Errorf("config: unknown verify_integrity mode %q", c.Store.VerifyIntegrity)
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen must not be empty")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("config: engine.tick_interval must be positive")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("config: webhook.max_attempts must be positive")
	}
	return nil
}

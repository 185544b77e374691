// Package config holds the client configuration and its loading logic.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration of a client.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Outbound  OutboundConfig  `yaml:"outbound"`
	Queue     QueueConfig     `yaml:"queue"`
	EventLoop EventLoopConfig `yaml:"eventloop"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// OutboundConfig tunes the outbound service.
type OutboundConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	// RemoteRPS <= 0 disables throttling.
	RemoteRPS   float64 `yaml:"remote_rps"`
	RemoteBurst int     `yaml:"remote_burst"`
}

// QueueConfig controls claims on the durable queues.
type QueueConfig struct {
	// Lease is how long a claimed record is reserved for its worker.
	Lease time.Duration `yaml:"lease"`
}

// EventLoopConfig sizes the event loop channels.
type EventLoopConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "./courier.db"},
		Log:   LogConfig{Level: "info", Format: "text"},
		Outbound: OutboundConfig{
			TickInterval: time.Minute,
			RemoteRPS:    20,
			RemoteBurst:  5,
		},
		Queue:     QueueConfig{Lease: 30 * time.Second},
		EventLoop: EventLoopConfig{Capacity: 1024},
	}
}

// Load reads a YAML file at path on top of Default. A missing file, or an
// empty path, yields the defaults. Environment overrides are applied last:
//
//	COURIER_STORE_PATH  sets store.path
//	COURIER_LOG_LEVEL   sets log.level
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		applyEnv(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COURIER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("COURIER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate returns the first inconsistent value found.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(`log.level must be one of "debug", "info", "warn", "error", got %q`, c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf(`log.format must be "json" or "text", got %q`, c.Log.Format)
	}
	if c.Outbound.TickInterval <= 0 {
		return errors.New("outbound.tick_interval must be positive")
	}
	if c.Outbound.RemoteRPS > 0 && c.Outbound.RemoteBurst < 1 {
		return errors.New("outbound.remote_burst must be at least 1 when remote_rps is set")
	}
	if c.Queue.Lease <= 0 {
		return errors.New("queue.lease must be positive")
	}
	if c.EventLoop.Capacity < 1 {
		return errors.New("eventloop.capacity must be at least 1")
	}
	return nil
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the service configuration from
// YAML, layered over defaults so a partial file only overrides what it
// names.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/senstream/featurepipe/broker"
	"github.com/senstream/featurepipe/notifier"
	"github.com/senstream/featurepipe/ratelimit"
	"github.com/senstream/featurepipe/sensor"
	"github.com/senstream/featurepipe/server/api"
	"github.com/senstream/featurepipe/server/websocket"
	"github.com/senstream/featurepipe/view"
)

// Config holds all configuration for the feature pipeline service.
type Config struct {
	API       api.Config       `yaml:"api"`
	WebSocket websocket.Config `yaml:"websocket"`
	Broker    broker.Config    `yaml:"broker"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Sensors   sensor.Config    `yaml:"sensors"`
	View      view.Config      `yaml:"view"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Notifier  notifier.Config  `yaml:"notifier"`
	Log       LogConfig        `yaml:"log"`
	Storage   StorageConfig    `yaml:"storage"`
}

// PipelineConfig sizes the stage worker pools.
type PipelineConfig struct {
	ExtractWorkers  int           `yaml:"extract_workers"`
	ClassifyWorkers int           `yaml:"classify_workers"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir string `yaml:"badger_dir"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		API:       api.DefaultConfig(),
		WebSocket: websocket.DefaultConfig(),
		Broker:    broker.DefaultConfig(),
		Pipeline: PipelineConfig{
			ExtractWorkers:  4,
			ClassifyWorkers: 4,
			PollTimeout:     250 * time.Millisecond,
		},
		Sensors:   sensor.DefaultConfig(),
		View:      view.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Notifier:  notifier.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type:      "memory",
			BadgerDir: "/tmp/featurepipe/data",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Broker.Validate(); err != nil {
		return err
	}
	if err := c.Sensors.Validate(); err != nil {
		return err
	}
	if err := c.View.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Notifier.Validate(); err != nil {
		return err
	}

	if c.Pipeline.ExtractWorkers < 1 {
		return fmt.Errorf("pipeline.extract_workers must be at least 1")
	}
	if c.Pipeline.ClassifyWorkers < 1 {
		return fmt.Errorf("pipeline.classify_workers must be at least 1")
	}
	if c.Pipeline.PollTimeout <= 0 {
		return fmt.Errorf("pipeline.poll_timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	validStorage := map[string]bool{"memory": true, "badger": true}
	if !validStorage[c.Storage.Type] {
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}
	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required when type is badger")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

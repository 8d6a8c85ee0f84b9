// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"
	"time"

	"github.com/senstream/featurepipe/notifier"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.API.Address != ":8080" {
		t.Errorf("expected default API addr :8080, got %s", cfg.API.Address)
	}
	if cfg.Broker.QueueCapacity != 4096 {
		t.Errorf("expected default queue capacity 4096, got %d", cfg.Broker.QueueCapacity)
	}
	if cfg.Pipeline.ExtractWorkers != 4 {
		t.Errorf("expected 4 extract workers, got %d", cfg.Pipeline.ExtractWorkers)
	}
	if cfg.View.Window != 5*time.Minute {
		t.Errorf("expected view window 5m, got %v", cfg.View.Window)
	}
	if cfg.RateLimit.Limit != 100 {
		t.Errorf("expected rate limit 100, got %d", cfg.RateLimit.Limit)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("expected storage type memory, got %s", cfg.Storage.Type)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty API address",
			modify: func(c *Config) {
				c.API.Address = ""
			},
			wantErr: true,
		},
		{
			name: "zero extract workers",
			modify: func(c *Config) {
				c.Pipeline.ExtractWorkers = 0
			},
			wantErr: true,
		},
		{
			name: "zero poll timeout",
			modify: func(c *Config) {
				c.Pipeline.PollTimeout = 0
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid storage type",
			modify: func(c *Config) {
				c.Storage.Type = "postgres"
			},
			wantErr: true,
		},
		{
			name: "badger without dir",
			modify: func(c *Config) {
				c.Storage.Type = "badger"
				c.Storage.BadgerDir = ""
			},
			wantErr: true,
		},
		{
			name: "zero rate limit",
			modify: func(c *Config) {
				c.RateLimit.Limit = 0
			},
			wantErr: true,
		},
		{
			name: "negative view window",
			modify: func(c *Config) {
				c.View.Window = -time.Minute
			},
			wantErr: true,
		},
		{
			name: "enabled notifier with unnamed endpoint",
			modify: func(c *Config) {
				c.Notifier.Enabled = true
				c.Notifier.Endpoints = append(c.Notifier.Endpoints, notifier.EndpointConfig{URL: "http://example.com"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}
	if cfg.API.Address != ":8080" {
		t.Errorf("expected default config, got API addr %s", cfg.API.Address)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"
	partial := "log:\n  level: debug\nsensors:\n  count: 8\n"
	if err := os.WriteFile(tmpfile, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Sensors.Count != 8 {
		t.Errorf("expected 8 sensors, got %d", cfg.Sensors.Count)
	}
	if cfg.API.Address != ":8080" {
		t.Errorf("unset fields must keep defaults, got API addr %s", cfg.API.Address)
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	cfg := Default()
	cfg.API.Address = ":9090"
	cfg.Pipeline.ClassifyWorkers = 8
	cfg.Log.Level = "debug"

	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.API.Address != ":9090" {
		t.Errorf("expected API addr :9090, got %s", loaded.API.Address)
	}
	if loaded.Pipeline.ClassifyWorkers != 8 {
		t.Errorf("expected 8 classify workers, got %d", loaded.Pipeline.ClassifyWorkers)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}

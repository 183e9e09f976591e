package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file: %v", err)
	}
	if cfg.Addr != ":5940" || cfg.ServerLogin != "God" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.IdleTimeout != time.Hour || cfg.ReaperInterval != time.Minute {
		t.Fatalf("unexpected timeouts: idle=%s reaper=%s", cfg.IdleTimeout, cfg.ReaperInterval)
	}
	if cfg.HistorySize != 100 {
		t.Fatalf("expected history size 100, got %d", cfg.HistorySize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	fileCfg := Default()
	fileCfg.Addr = ":6000"
	fileCfg.ServerPassword = "from-file"
	fileCfg.Storage.Driver = DriverSQLite
	if err := Save(path, fileCfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv("ROOMCHAT_ADDR", ":7000")
	t.Setenv("ROOMCHAT_STORAGE_DATABASE_PATH", "/tmp/env.db")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("env should win over file, got %s", cfg.Addr)
	}
	if cfg.ServerPassword != "from-file" {
		t.Fatalf("file should win over defaults, got %s", cfg.ServerPassword)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.DatabasePath != "/tmp/env.db" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}

	cfg.UpdateFrom(Config{Addr: ":8000"})
	if cfg.Addr != ":8000" {
		t.Fatalf("override should win, got %s", cfg.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty addr", mutate: func(c *Config) { c.Addr = "" }},
		{name: "missing server password", mutate: func(c *Config) { c.ServerPassword = "" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "etcd" }},
		{name: "missing rooms dir", mutate: func(c *Config) { c.Storage.RoomsDir = "" }},
		{name: "zero history", mutate: func(c *Config) { c.HistorySize = 0 }},
		{name: "zero idle timeout", mutate: func(c *Config) { c.IdleTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

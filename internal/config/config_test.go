package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile_ParsesYAMLAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
max_pending_tasks: 500
agent_heartbeat_interval_seconds: 10
retry_base_delay_seconds: 1.5
log_level: DEBUG
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.MaxPendingTasks != 500 {
		t.Fatalf("expected max_pending_tasks 500, got %d", cfg.MaxPendingTasks)
	}
	if cfg.AgentHeartbeatInterval().Seconds() != 10 {
		t.Fatalf("expected heartbeat 10s, got %v", cfg.AgentHeartbeatInterval())
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level normalized to lowercase, got %q", cfg.LogLevel)
	}
	// Untouched fields fall back to defaults.
	if cfg.EventRingCapacity != 10000 {
		t.Fatalf("expected default event ring capacity, got %d", cfg.EventRingCapacity)
	}
}

func TestLoadFromFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SWARMBOT_MAX_PENDING_TASKS", "42")
	t.Setenv("SWARMBOT_LOG_LEVEL", "warn")

	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	normalize(&cfg)

	if cfg.MaxPendingTasks != 42 {
		t.Fatalf("expected env override to set max_pending_tasks, got %d", cfg.MaxPendingTasks)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env override to set log_level, got %q", cfg.LogLevel)
	}
}

func TestNormalize_FillsZeroValueDefaults(t *testing.T) {
	cfg := Config{}
	normalize(&cfg)

	if cfg.MaxPendingTasks == 0 || cfg.EventRingCapacity == 0 || cfg.BindAddr == "" {
		t.Fatalf("expected zero-value config to be fully normalized, got %+v", cfg)
	}
}

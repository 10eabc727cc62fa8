// Package config loads the Coordinator's configuration (spec.md §6):
// a YAML document with environment-variable overrides and
// default-normalization, in the teacher's convention of a single
// top-level Config struct loaded once at startup from a well-known
// home directory. Grounded on the teacher's internal/config/config.go
// Load/normalize/applyEnvOverrides shape, generalized from the
// teacher's LLM-provider/skills/channels fields to the Coordinator's
// own tunables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the Coordinator's top-level configuration document.
type Config struct {
	HomeDir string `yaml:"-"`

	MaxPendingTasks               int     `yaml:"max_pending_tasks"`
	DefaultTaskDeadlineSeconds    int     `yaml:"default_task_deadline_seconds"`
	CancelGraceSeconds            int     `yaml:"cancel_grace_seconds"`
	AgentHeartbeatIntervalSeconds int     `yaml:"agent_heartbeat_interval_seconds"`
	AgentUnreachableMultiplier    int     `yaml:"agent_unreachable_multiplier"`
	RetryBaseDelaySeconds         float64 `yaml:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds          float64 `yaml:"retry_max_delay_seconds"`
	EventRingCapacity             int     `yaml:"event_ring_capacity"`
	EventBatchWindowMS            int     `yaml:"event_batch_window_ms"`
	TerminalRetentionSeconds      int     `yaml:"terminal_retention_seconds"`
	StrictRequiredCapabilities    bool    `yaml:"strict_required_capabilities"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"
	BindAddr  string `yaml:"bind_addr"`  // status/health HTTP listener

	Telemetry TelemetryConfig `yaml:"telemetry"`

	// EventSink, if enabled, mirrors terminal task events into the
	// reference SQLite subscriber (internal/eventsink) rather than
	// relying on the in-memory ring buffer alone.
	EventSink EventSinkConfig `yaml:"event_sink"`
}

// TelemetryConfig controls OpenTelemetry export (internal/telemetry).
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	StdoutFallback bool   `yaml:"stdout_fallback"`
}

// EventSinkConfig controls the optional durable event mirror.
type EventSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"` // sqlite file path
}

// DefaultTaskDeadline, RetryBaseDelay, etc. convert the YAML's
// primitive-typed fields into the time.Duration values the rest of the
// Coordinator consumes.
func (c Config) DefaultTaskDeadline() time.Duration {
	return time.Duration(c.DefaultTaskDeadlineSeconds) * time.Second
}

func (c Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSeconds) * time.Second
}

func (c Config) AgentHeartbeatInterval() time.Duration {
	return time.Duration(c.AgentHeartbeatIntervalSeconds) * time.Second
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds * float64(time.Second))
}

func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds * float64(time.Second))
}

func (c Config) EventBatchWindow() time.Duration {
	return time.Duration(c.EventBatchWindowMS) * time.Millisecond
}

func (c Config) TerminalRetention() time.Duration {
	return time.Duration(c.TerminalRetentionSeconds) * time.Second
}

func defaultConfig() Config {
	return Config{
		MaxPendingTasks:                10000,
		DefaultTaskDeadlineSeconds:     300,
		CancelGraceSeconds:             5,
		AgentHeartbeatIntervalSeconds:  5,
		AgentUnreachableMultiplier:     3,
		RetryBaseDelaySeconds:          2,
		RetryMaxDelaySeconds:           120,
		EventRingCapacity:              10000,
		EventBatchWindowMS:             200,
		TerminalRetentionSeconds:       600,
		StrictRequiredCapabilities:     false,
		LogLevel:                       "info",
		LogFormat:                      "json",
		BindAddr:                       "127.0.0.1:8089",
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "swarmbotd",
		},
	}
}

// HomeDir returns the directory config.yaml is read from, honoring the
// SWARMBOT_HOME override.
func HomeDir() string {
	if override := os.Getenv("SWARMBOT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".swarmbot")
}

// Load reads config.yaml from HomeDir (creating the directory if
// needed), applies environment overrides, and normalizes defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create swarmbot home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// LoadFromFile is Load with an explicit path, used by tests and by
// callers that don't want the HomeDir/SWARMBOT_HOME convention.
func LoadFromFile(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.MaxPendingTasks <= 0 {
		cfg.MaxPendingTasks = 10000
	}
	if cfg.DefaultTaskDeadlineSeconds <= 0 {
		cfg.DefaultTaskDeadlineSeconds = 300
	}
	if cfg.CancelGraceSeconds <= 0 {
		cfg.CancelGraceSeconds = 5
	}
	if cfg.AgentHeartbeatIntervalSeconds <= 0 {
		cfg.AgentHeartbeatIntervalSeconds = 5
	}
	if cfg.AgentUnreachableMultiplier <= 0 {
		cfg.AgentUnreachableMultiplier = 3
	}
	if cfg.RetryBaseDelaySeconds <= 0 {
		cfg.RetryBaseDelaySeconds = 2
	}
	if cfg.RetryMaxDelaySeconds <= 0 {
		cfg.RetryMaxDelaySeconds = 120
	}
	if cfg.EventRingCapacity <= 0 {
		cfg.EventRingCapacity = 10000
	}
	if cfg.EventBatchWindowMS <= 0 {
		cfg.EventBatchWindowMS = 200
	}
	if cfg.TerminalRetentionSeconds <= 0 {
		cfg.TerminalRetentionSeconds = 600
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.LogFormat) == "" {
		cfg.LogFormat = "json"
	}
	if strings.TrimSpace(cfg.BindAddr) == "" {
		cfg.BindAddr = "127.0.0.1:8089"
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "swarmbotd"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SWARMBOT_MAX_PENDING_TASKS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxPendingTasks = v
		}
	}
	if raw := os.Getenv("SWARMBOT_DEFAULT_TASK_DEADLINE_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DefaultTaskDeadlineSeconds = v
		}
	}
	if raw := os.Getenv("SWARMBOT_AGENT_HEARTBEAT_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.AgentHeartbeatIntervalSeconds = v
		}
	}
	if raw := os.Getenv("SWARMBOT_RETRY_BASE_DELAY_SECONDS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.RetryBaseDelaySeconds = v
		}
	}
	if raw := os.Getenv("SWARMBOT_EVENT_RING_CAPACITY"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.EventRingCapacity = v
		}
	}
	if raw := os.Getenv("SWARMBOT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SWARMBOT_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("SWARMBOT_STRICT_REQUIRED_CAPABILITIES"); raw != "" {
		cfg.StrictRequiredCapabilities = raw == "1" || strings.EqualFold(raw, "true")
	}
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); raw != "" {
		cfg.Telemetry.OTLPEndpoint = raw
	}
}

// Fingerprint returns a short string summarizing the config values that
// affect Coordinator behavior, suitable for a startup log line.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("max_pending=%d heartbeat=%ds retry_base=%.1fs ring=%d batch=%dms",
		c.MaxPendingTasks, c.AgentHeartbeatIntervalSeconds, c.RetryBaseDelaySeconds,
		c.EventRingCapacity, c.EventBatchWindowMS)
}

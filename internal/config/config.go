// Package config loads the agent core's configuration document,
// following the same gopkg.in/yaml.v3 unmarshal-then-default pattern
// as agents.LoadTeamsConfig in the teacher codebase.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode governs how the agent reacts to task/plan failures.
type Mode string

const (
	ModeInteractive Mode = "INTERACTIVE"
	ModeAutonomous  Mode = "AUTONOMOUS"
	ModeSupervised  Mode = "SUPERVISED"
	ModeManual      Mode = "MANUAL"
)

// ToolServer describes one registered external tool server.
type ToolServer struct {
	URL      string            `yaml:"url"`
	Enabled  bool              `yaml:"enabled"`
	Priority int               `yaml:"priority"`
	Headers  map[string]string `yaml:"headers"`
}

// AI holds the settings forwarded verbatim to the AI Adapter.
type AI struct {
	DefaultProvider string  `yaml:"default_provider"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
}

// Agent holds the recognized options from spec.md §6.
type Agent struct {
	Enabled             bool     `yaml:"enabled"`
	Mode                Mode     `yaml:"mode"`
	MaxConcurrentTasks  int      `yaml:"max_concurrent_tasks"`
	ExecutionIntervalMs int      `yaml:"execution_interval_ms"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_seconds"`
	StatePath           string   `yaml:"state_path"`
	BackupRetentionDays int      `yaml:"backup_retention_days"`
	HistorySize         int      `yaml:"history_size"`
	AllowRoots          []string `yaml:"allow_roots"`
}

// HTTP holds the agent-service HTTP/WebSocket surface's settings.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration document.
type Config struct {
	Agent   Agent                 `yaml:"agent"`
	AI      AI                    `yaml:"ai"`
	HTTP    HTTP                  `yaml:"http"`
	Tools   map[string]ToolServer `yaml:"tools_servers"`
}

// ExecutionInterval returns Agent.ExecutionIntervalMs as a duration.
func (c *Config) ExecutionInterval() time.Duration {
	return time.Duration(c.Agent.ExecutionIntervalMs) * time.Millisecond
}

// ShutdownGrace returns Agent.ShutdownTimeoutSecs as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Agent.ShutdownTimeoutSecs) * time.Second
}

// Default returns a configuration populated with spec.md §6 defaults.
func Default() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		Agent: Agent{
			Enabled:             true,
			Mode:                ModeInteractive,
			MaxConcurrentTasks:  3,
			ExecutionIntervalMs: 5000,
			ShutdownTimeoutSecs: 5,
			StatePath:           "./agent-state.json",
			BackupRetentionDays: 7,
			HistorySize:         500,
			AllowRoots:          []string{cwd},
		},
		HTTP: HTTP{
			Addr: ":3000",
		},
		Tools: make(map[string]ToolServer),
	}
}

// Load reads and parses a YAML configuration file at path, filling in
// spec.md §6 defaults for anything left unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyDefaults(cfg)

	if cfg.AI.DefaultProvider == "" {
		return nil, fmt.Errorf("ai.default_provider is required")
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Agent.Mode == "" {
		cfg.Agent.Mode = def.Agent.Mode
	}
	if cfg.Agent.MaxConcurrentTasks == 0 {
		cfg.Agent.MaxConcurrentTasks = def.Agent.MaxConcurrentTasks
	}
	if cfg.Agent.ExecutionIntervalMs == 0 {
		cfg.Agent.ExecutionIntervalMs = def.Agent.ExecutionIntervalMs
	}
	if cfg.Agent.ShutdownTimeoutSecs == 0 {
		cfg.Agent.ShutdownTimeoutSecs = def.Agent.ShutdownTimeoutSecs
	}
	if cfg.Agent.StatePath == "" {
		cfg.Agent.StatePath = def.Agent.StatePath
	}
	if cfg.Agent.BackupRetentionDays == 0 {
		cfg.Agent.BackupRetentionDays = def.Agent.BackupRetentionDays
	}
	if cfg.Agent.HistorySize == 0 {
		cfg.Agent.HistorySize = def.Agent.HistorySize
	}
	if len(cfg.Agent.AllowRoots) == 0 {
		cfg.Agent.AllowRoots = def.Agent.AllowRoots
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = def.HTTP.Addr
	}
	if cfg.Tools == nil {
		cfg.Tools = make(map[string]ToolServer)
	}
}

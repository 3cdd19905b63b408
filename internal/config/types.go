// Package config provides configuration loading for execd.
package config

import (
	"fmt"
	"strings"
)

// Secret wraps strings that should be redacted in logs and serialization.
type Secret string

// String implements fmt.Stringer. Always returns the redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the underlying secret value.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON redacts the secret in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalText redacts the secret in text output.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// Config is the root execd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	GitHub    GitHubConfig    `koanf:"github"`
	Models    ModelsConfig    `koanf:"models"`
	Agent     AgentConfig     `koanf:"agent"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig configures the SQLite job store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// WorkspaceConfig locates the project repository and worktree storage.
type WorkspaceConfig struct {
	Root        string `koanf:"root"`
	WorktreeDir string `koanf:"worktree_dir"`
}

// GitHubConfig carries the token used for orchestrator-created pull
// requests. REVIEW jobs carry their own tokens in spec tags.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// ModelsConfig names the models jobs may request and the defaults applied
// to submissions that omit them.
type ModelsConfig struct {
	Available []string `koanf:"available"`
	Planner   string   `koanf:"planner"`
	Code      string   `koanf:"code"`
	Scan      string   `koanf:"scan"`
}

// AgentConfig names the external agent CLI the execution context drives.
type AgentConfig struct {
	Command []string `koanf:"command"`
}

// TelemetryConfig configures OTLP trace export. Disabled by default; when
// enabled, spans are shipped to the collector at Endpoint over gRPC.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "localhost", Port: 8876},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Store:   StoreConfig{Path: "execd.db"},
		Workspace: WorkspaceConfig{
			Root:        ".",
			WorktreeDir: ".execd/worktrees",
		},
		Models: ModelsConfig{
			Available: []string{"claude-sonnet-4-5-20250929", "claude-opus-4-1-20250805"},
			Planner:   "claude-opus-4-1-20250805",
			Code:      "claude-sonnet-4-5-20250929",
		},
		Agent: AgentConfig{Command: []string{"claude", "--print"}},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace root is required")
	}
	if c.Workspace.WorktreeDir == "" {
		return fmt.Errorf("worktree dir is required")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample rate %v out of range [0, 1]", c.Telemetry.SampleRate)
		}
		if c.Telemetry.Insecure && !isLocalEndpoint(c.Telemetry.Endpoint) {
			return fmt.Errorf("insecure telemetry export is only allowed to local endpoints, got %q", c.Telemetry.Endpoint)
		}
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := endpoint
	if i := strings.LastIndex(endpoint, ":"); i >= 0 {
		host = endpoint[:i]
	}
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

// Package config provides configuration management for the sandbox analysis service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	VM       VMConfig       `yaml:"vm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	UploadDir   string `yaml:"upload_dir"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

// VMConfig holds the guest-control target and credentials.
//
// GuestPass is a credential: it is passed to the control utility on
// every invocation but must never be written to logs.
type VMConfig struct {
	VMRunPath      string `yaml:"vmrun_path"`
	HostType       string `yaml:"host_type"` // vmrun -T value, e.g. "ws"
	VMXPath        string `yaml:"vmx_path"`
	GuestUser      string `yaml:"guest_user"`
	GuestPass      string `yaml:"guest_pass"`
	CleanSnapshot  string `yaml:"clean_snapshot"`
	WorkspaceRoot  string `yaml:"workspace_root"`
	DefaultTimeout string `yaml:"default_timeout"`
}

// AnalysisConfig holds analysis pipeline defaults.
type AnalysisConfig struct {
	ResultsDir   string `yaml:"results_dir"`
	TraceTimeout string `yaml:"trace_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			UploadDir:   "/tmp/sandbox-analysis/uploads",
			MaxUploadMB: 100,
		},
		VM: VMConfig{
			VMRunPath:      "vmrun",
			HostType:       "ws",
			VMXPath:        "",
			GuestUser:      "kali",
			GuestPass:      "kali",
			CleanSnapshot:  "CleanSnapshot1",
			WorkspaceRoot:  "/home/kali/SandboxAnalysis",
			DefaultTimeout: "100s",
		},
		Analysis: AnalysisConfig{
			ResultsDir:   "/tmp/sandbox-analysis/results",
			TraceTimeout: "100s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// GetDefaultTimeout returns the default control timeout as a time.Duration.
func (c *VMConfig) GetDefaultTimeout() time.Duration {
	d, err := time.ParseDuration(c.DefaultTimeout)
	if err != nil {
		return 100 * time.Second
	}
	return d
}

// GetTraceTimeout returns the trace timeout as a time.Duration.
func (c *AnalysisConfig) GetTraceTimeout() time.Duration {
	d, err := time.ParseDuration(c.TraceTimeout)
	if err != nil {
		return 100 * time.Second
	}
	return d
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *ServerConfig) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 100 << 20
	}
	return c.MaxUploadMB << 20
}

// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default per-project configuration file name,
// resolved relative to a project root's .heimdall directory.
const ConfigFileName = "config.yaml"

// Config is the complete, resolved configuration for one project's
// monitor daemon. Every field has a built-in default (see DefaultConfig);
// layered loading (internal/config/koanf.go) fills it in flag > env >
// file > default precedence order, per spec §6.
type Config struct {
	// ProjectRoot is the directory containing .heimdall/. Not itself part
	// of the YAML/env schema -- always supplied by the CLI flag or the
	// current working directory.
	ProjectRoot string `yaml:"-" koanf:"-"`

	// TargetPath is the watched subpath, relative to ProjectRoot.
	TargetPath string `yaml:"target_path" koanf:"target_path"`

	// Scanner settings (spec §4.2).
	IntervalSeconds     int      `yaml:"interval_seconds" koanf:"interval_seconds"`
	Extensions          []string `yaml:"extensions" koanf:"extensions"`
	IgnorePatterns      []string `yaml:"ignore_patterns" koanf:"ignore_patterns"`
	MaxFingerprintBytes int64    `yaml:"max_fingerprint_bytes" koanf:"max_fingerprint_bytes"`

	// Queue settings (spec §4.3).
	QueueCapacity int `yaml:"queue_capacity" koanf:"queue_capacity"`

	// Dispatcher settings (spec §4.5).
	BaseCommand              string   `yaml:"base_command" koanf:"base_command"`
	FixedArgs                []string `yaml:"fixed_args" koanf:"fixed_args"`
	SubprocessTimeoutSeconds int      `yaml:"subprocess_timeout_seconds" koanf:"subprocess_timeout_seconds"`
	KillGraceSeconds         int      `yaml:"kill_grace_seconds" koanf:"kill_grace_seconds"`
	MaxRetries               int      `yaml:"max_retries" koanf:"max_retries"`
	RetryBaseDelaySeconds    int      `yaml:"retry_base_delay_seconds" koanf:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds     int      `yaml:"retry_max_delay_seconds" koanf:"retry_max_delay_seconds"`
	CaptureBytes             int      `yaml:"capture_bytes" koanf:"capture_bytes"`
	PermanentFailurePatterns []string `yaml:"permanent_failure_patterns" koanf:"permanent_failure_patterns"`

	// Daemon lifecycle settings (spec §4.6/§5).
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" koanf:"shutdown_grace_seconds"`

	// Supervisor settings (spec §4.7).
	StartTimeoutSeconds int `yaml:"start_timeout_seconds" koanf:"start_timeout_seconds"`
	StopTimeoutSeconds  int `yaml:"stop_timeout_seconds" koanf:"stop_timeout_seconds"`

	// Health thresholds (spec §4.7/§7 -- configuration, not hard-coded;
	// see DESIGN.md Open Question resolution).
	HealthMaxEventAgeSeconds       int     `yaml:"health_max_event_age_seconds" koanf:"health_max_event_age_seconds"`
	HealthMaxPermanentFailureRatio float64 `yaml:"health_max_permanent_failure_ratio" koanf:"health_max_permanent_failure_ratio"`

	// HealthListenAddr is the "host:port" the /healthz and /metrics HTTP
	// handlers bind to. Empty disables the health server entirely -- the
	// default, since multiple projects' daemons share a host and would
	// otherwise collide on one hardcoded port.
	HealthListenAddr string `yaml:"health_listen_addr" koanf:"health_listen_addr"`
}

// LoadConfig reads and parses a per-project YAML configuration file. A
// missing file is an error here -- callers needing defaults should use
// DefaultConfig or the layered loader in koanf.go instead.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - path is administrator-controlled, not web input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// atomicFile abstracts the file operations Save needs, for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration atomically: write to a temp file in the
// same directory, sync, chmod, then rename over the target path, so a
// crash mid-write never leaves a partially-written config file.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate rejects configuration values spec §4/§8 name as startup-fatal.
func (c *Config) Validate() error {
	if c.IntervalSeconds < 1 {
		return fmt.Errorf("interval_seconds must be >= 1 (got %d)", c.IntervalSeconds)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be positive (got %d)", c.QueueCapacity)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative (got %d)", c.MaxRetries)
	}
	if c.SubprocessTimeoutSeconds < 1 {
		return fmt.Errorf("subprocess_timeout_seconds must be positive (got %d)", c.SubprocessTimeoutSeconds)
	}
	if strings.TrimSpace(c.BaseCommand) == "" {
		return fmt.Errorf("base_command must not be empty")
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("extensions must not be empty")
	}
	if c.HealthMaxPermanentFailureRatio < 0 || c.HealthMaxPermanentFailureRatio > 1 {
		return fmt.Errorf("health_max_permanent_failure_ratio must be within [0,1] (got %f)", c.HealthMaxPermanentFailureRatio)
	}
	return nil
}

// Interval, SubprocessTimeout, KillGrace, RetryBaseDelay, RetryMaxDelay,
// ShutdownGrace, StartTimeout, StopTimeout, and HealthMaxEventAge convert
// the YAML/env integer-seconds fields into time.Duration for the
// components that consume them.
func (c *Config) Interval() time.Duration          { return time.Duration(c.IntervalSeconds) * time.Second }
func (c *Config) SubprocessTimeout() time.Duration {
	return time.Duration(c.SubprocessTimeoutSeconds) * time.Second
}
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.KillGraceSeconds) * time.Second
}
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds) * time.Second
}
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds) * time.Second
}
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutSeconds) * time.Second
}
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}
func (c *Config) HealthMaxEventAge() time.Duration {
	return time.Duration(c.HealthMaxEventAgeSeconds) * time.Second
}

// HeimdallDir returns the per-project ".heimdall" directory.
func (c *Config) HeimdallDir() string {
	return filepath.Join(c.ProjectRoot, ".heimdall")
}

// TargetDir returns the absolute watched directory.
func (c *Config) TargetDir() string {
	if c.TargetPath == "" {
		return filepath.Join(c.HeimdallDir(), "docs")
	}
	return filepath.Join(c.ProjectRoot, c.TargetPath)
}

// LockPath, PidPath, StatusPath, and LogPath are the fixed per-project
// filesystem artifacts spec §6 names.
func (c *Config) LockPath() string   { return filepath.Join(c.HeimdallDir(), "monitor.lock") }
func (c *Config) PidPath() string    { return filepath.Join(c.HeimdallDir(), "monitor.pid") }
func (c *Config) StatusPath() string { return filepath.Join(c.HeimdallDir(), "monitor.status") }
func (c *Config) LogPath() string    { return filepath.Join(c.HeimdallDir(), "logs", "monitor.log") }

// DefaultConfig returns a Config populated with the built-in defaults
// from spec §4.
func DefaultConfig() *Config {
	return &Config{
		TargetPath:          "",
		IntervalSeconds:     5,
		Extensions:          []string{".md", ".markdown", ".mdown", ".mkd"},
		IgnorePatterns:      []string{".git", "node_modules"},
		MaxFingerprintBytes: 10 * 1024 * 1024,

		QueueCapacity: 1000,

		BaseCommand:              "heimdall",
		FixedArgs:                nil,
		SubprocessTimeoutSeconds: 300,
		KillGraceSeconds:         5,
		MaxRetries:               3,
		RetryBaseDelaySeconds:    2,
		RetryMaxDelaySeconds:     60,
		CaptureBytes:             64 * 1024,
		PermanentFailurePatterns: nil,

		ShutdownGraceSeconds: 30,

		StartTimeoutSeconds: 10,
		StopTimeoutSeconds:  30,

		HealthMaxEventAgeSeconds:       3600,
		HealthMaxPermanentFailureRatio: 0.5,
		HealthListenAddr:               "",
	}
}

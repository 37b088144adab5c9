// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix recognized by the
// layered loader (spec §6: MONITOR_INTERVAL_SECONDS, MONITOR_TARGET_PATH,
// MONITOR_IGNORE_PATTERNS, MONITOR_SUBPROCESS_TIMEOUT, MONITOR_MAX_RETRIES,
// MONITOR_BASE_COMMAND).
const DefaultEnvPrefix = "MONITOR"

// envKeyMap translates the spec-named environment variables, plus
// HEALTH_LISTEN_ADDR (with the prefix already stripped by env.Provider),
// into the config keys Config's koanf tags expose. Variables outside this
// set still load via the generic lowercase fallback (MONITOR_QUEUE_CAPACITY
// -> queue_capacity), so operators are not limited to only the six names
// spec §6 lists by name.
var envKeyMap = map[string]string{
	"INTERVAL_SECONDS":    "interval_seconds",
	"TARGET_PATH":         "target_path",
	"IGNORE_PATTERNS":     "ignore_patterns",
	"SUBPROCESS_TIMEOUT":  "subprocess_timeout_seconds",
	"MAX_RETRIES":         "max_retries",
	"BASE_COMMAND":        "base_command",
	"HEALTH_LISTEN_ADDR":  "health_listen_addr",
}

// KoanfConfig loads a project's Config from, in ascending precedence:
// built-in defaults, an optional per-project YAML file, environment
// variables, and finally CLI-flag overrides applied last via ApplyFlags --
// giving exactly the flag > env > file > default order spec §6 requires.
type KoanfConfig struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig) error

// WithYAMLFile sets the optional per-project YAML configuration file path.
func WithYAMLFile(path string) Option {
	return func(kc *KoanfConfig) error {
		kc.filePath = path
		return nil
	}
}

// WithEnvPrefix overrides the environment variable prefix (default "MONITOR").
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) error {
		kc.envPrefix = prefix
		return nil
	}
}

// NewKoanfConfig builds a loader and performs the initial load.
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}

	for _, opt := range opts {
		if err := opt(kc); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := kc.reload(); err != nil {
		return nil, err
	}

	return kc, nil
}

// Load unmarshals the layered configuration into a validated Config.
func (kc *KoanfConfig) Load() (*Config, error) {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyFlags overlays CLI-flag values on top of whatever file/env layers
// already produced -- the highest-precedence tier spec §6 names. Every
// entry in overrides is applied, zero values included, so callers pass a
// map built from only the flags the operator actually set.
func (kc *KoanfConfig) ApplyFlags(overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}
	kc.mu.Lock()
	defer kc.mu.Unlock()
	return kc.k.Load(confmap.Provider(overrides, "."), nil)
}

// Reload reloads from defaults, file, and environment (not CLI flags --
// callers reapply those via ApplyFlags after Reload if needed).
func (kc *KoanfConfig) Reload() error {
	return kc.reload()
}

func (kc *KoanfConfig) reload() error {
	newK := koanf.New(".")

	// Tier 3 (lowest): built-in defaults, expressed as a confmap so file
	// and env layers below can selectively override individual keys
	// rather than requiring a complete file/environment.
	defaults := structToMap(DefaultConfig())
	if err := newK.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}

	// Tier 2: optional per-project YAML file.
	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load YAML file: %w", err)
		}
	}

	// Tier 1: environment variables, mapped through envKeyMap for the
	// spec-named variables and a generic lowercase fallback for anything
	// else under the prefix.
	prefix := kc.envPrefix + "_"
	envProvider := env.Provider(".", env.Opt{
		Prefix: prefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, prefix)
			dotted, ok := envKeyMap[k]
			if !ok {
				dotted = strings.ToLower(k)
			}
			if isListKey(dotted) {
				return dotted, splitCSV(v)
			}
			return dotted, v
		},
	})
	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()

	return nil
}

// isListKey reports whether a dotted config key holds a string slice, so
// the environment layer knows to split comma-separated values (spec §6:
// "MONITOR_IGNORE_PATTERNS | Comma-separated ignored path segments").
func isListKey(dotted string) bool {
	switch dotted {
	case "ignore_patterns", "extensions", "fixed_args", "permanent_failure_patterns":
		return true
	default:
		return false
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// structToMap renders a *Config's koanf-tagged fields into the flat map
// confmap.Provider expects, so the built-in defaults participate in the
// same layered-merge machinery as the file and environment tiers.
func structToMap(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"target_path":                       cfg.TargetPath,
		"interval_seconds":                  cfg.IntervalSeconds,
		"extensions":                        cfg.Extensions,
		"ignore_patterns":                   cfg.IgnorePatterns,
		"max_fingerprint_bytes":             cfg.MaxFingerprintBytes,
		"queue_capacity":                    cfg.QueueCapacity,
		"base_command":                      cfg.BaseCommand,
		"fixed_args":                        cfg.FixedArgs,
		"subprocess_timeout_seconds":        cfg.SubprocessTimeoutSeconds,
		"kill_grace_seconds":                cfg.KillGraceSeconds,
		"max_retries":                       cfg.MaxRetries,
		"retry_base_delay_seconds":          cfg.RetryBaseDelaySeconds,
		"retry_max_delay_seconds":           cfg.RetryMaxDelaySeconds,
		"capture_bytes":                     cfg.CaptureBytes,
		"permanent_failure_patterns":        cfg.PermanentFailurePatterns,
		"shutdown_grace_seconds":            cfg.ShutdownGraceSeconds,
		"start_timeout_seconds":             cfg.StartTimeoutSeconds,
		"stop_timeout_seconds":              cfg.StopTimeoutSeconds,
		"health_max_event_age_seconds":      cfg.HealthMaxEventAgeSeconds,
		"health_max_permanent_failure_ratio": cfg.HealthMaxPermanentFailureRatio,
		"health_listen_addr":                cfg.HealthListenAddr,
	}
}

// GetString, GetInt, and GetBool expose ad hoc lookups
// against the merged layers, for callers that need a single value
// without unmarshaling the whole Config (e.g. diagnostics/debug tooling).
func (kc *KoanfConfig) GetString(key string) string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.String(key)
}

func (kc *KoanfConfig) GetInt(key string) int {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.Int(key)
}

func (kc *KoanfConfig) GetBool(key string) bool {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.Bool(key)
}

// Exists checks if a configuration key is present in the merged layers.
func (kc *KoanfConfig) Exists(key string) bool {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.Exists(key)
}

// All returns the entire merged configuration as a map, for diagnostics.
func (kc *KoanfConfig) All() map[string]interface{} {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.All()
}

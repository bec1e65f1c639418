package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Option customizes Load, mirroring the teacher's functional-option loader.
type Option func(*loadOptions)

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
}

// WithConfigPath sets the YAML file path; without it Load reads no file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnvLookup substitutes the environment lookup function (used by tests).
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// Load builds a Config by layering: built-in defaults, an optional YAML
// file, then environment variable overrides — the same file-then-env
// layering as the teacher's internal/config package.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookupWithAliases(),
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()

	if options.configPath != "" {
		data, err := options.readFile(options.configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg, options.envLookup)
	cfg.LocatorOverride = expandEnvValue(options.envLookup, cfg.LocatorOverride)

	if cfg.StateRoot == "" {
		cfg.StateRoot = defaultStateRoot()
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup EnvLookup) {
	if v, ok := lookup("STATE_ROOT"); ok && strings.TrimSpace(v) != "" {
		cfg.StateRoot = expandEnvValue(lookup, v)
	}
	if v, ok := lookup("DISK_QUOTA_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DiskQuotaBytes = n
		}
	}
	if v, ok := lookup("MAX_CONCURRENT_SESSIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentSessions = n
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("DISABLE_AUTO_GC"); ok {
		cfg.DisableAutoGC = truthy(v)
	}
	if v, ok := lookup("BINARY_PATH"); ok && v != "" {
		cfg.LocatorOverride = v
	}
	if v, ok := lookup("POSTHOG_API_KEY"); ok && v != "" {
		cfg.PostHogAPIKey = v
	}
	if v, ok := lookup("POSTHOG_HOST"); ok && v != "" {
		cfg.PostHogHost = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func defaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "corvid")
	}
	return filepath.Join(home, ".corvid")
}

// Validate returns an *errors-free but human-auditable problem list; Load
// callers that need hard validation failures call Validate explicitly so
// a corrupt-but-partial file never silently boots with a nonsensical cap.
func Validate(cfg Config) []string {
	var problems []string
	if cfg.MaxConcurrentSessions <= 0 {
		problems = append(problems, "max_concurrent_sessions must be positive")
	}
	if cfg.QueueCapacity <= 0 {
		problems = append(problems, "queue_capacity must be positive")
	}
	if cfg.MaxLineLength <= 0 {
		problems = append(problems, "max_line_length must be positive")
	}
	if cfg.KillGrace <= 0 {
		problems = append(problems, "kill_grace must be positive")
	}
	if cfg.ZstdLevel < 1 || cfg.ZstdLevel > 22 {
		problems = append(problems, "zstd_level must be between 1 and 22")
	}
	if cfg.SessionDeadline <= 0 {
		problems = append(problems, "session_deadline must be positive")
	}
	return problems
}

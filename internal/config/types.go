// Package config defines the single typed configuration record for the
// runtime, replacing the "dynamic config object with many optional keys"
// pattern the design notes call out for re-architecture (§9).
package config

import "time"

// Config is the one typed configuration record every component takes at
// construction time. There are no ambient globals: main wires a Config into
// each component explicitly.
type Config struct {
	// StateRoot is the root of the on-disk layout (§6): content-store/,
	// checkpoints/, registry/, logs/.
	StateRoot string `yaml:"state_root"`

	// DiskQuotaBytes bounds the Content Store; zero means unbounded.
	DiskQuotaBytes int64 `yaml:"disk_quota_bytes"`

	// MaxConcurrentSessions is the global cap enforced by the Process
	// Registry and Session Supervisor.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// SessionDeadline is the terminal deadline applied to every session
	// unless overridden per-call.
	SessionDeadline time.Duration `yaml:"session_deadline"`

	// IdleTimeout triggers a Timing-Out transition when no stream record has
	// been observed for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// QueueCapacity bounds the per-session stream record / notification
	// channel (the backpressure fulcrum, §5).
	QueueCapacity int `yaml:"queue_capacity"`

	// MaxLineLength bounds a single JSONL line before the Stream Engine
	// drops it with a decode-error meta record.
	MaxLineLength int `yaml:"max_line_length"`

	// StderrRingBufferBytes bounds the stderr capture ring buffer.
	StderrRingBufferBytes int `yaml:"stderr_ring_buffer_bytes"`

	// ZstdLevel controls Content Store blob compression.
	ZstdLevel int `yaml:"zstd_level"`

	// LocatorOverride is an explicit path the Binary Locator tries first;
	// the rest of the discovery chain is tried only if it is missing or
	// fails validation.
	LocatorOverride string `yaml:"locator_override"`

	// LocatorTTL is how long a validated binary record stays fresh before
	// resolve() re-probes it.
	LocatorTTL time.Duration `yaml:"locator_ttl"`

	// MinVersion is the version constraint the Binary Locator's
	// version-probe validation enforces (a bare minimum, e.g. "1.0.0").
	MinVersion string `yaml:"min_version"`

	// KillGrace is the polite-signal-to-forced-kill grace period (§4.5).
	KillGrace time.Duration `yaml:"kill_grace"`

	// ZombieTimeout bounds how long the supervisor waits after a forced
	// kill before logging a zombie-suspected event.
	ZombieTimeout time.Duration `yaml:"zombie_timeout"`

	// GCInterval schedules automatic Content Store GC; zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// DisableAutoGC overrides GCInterval off entirely.
	DisableAutoGC bool `yaml:"disable_auto_gc"`

	// LogLevel and LogFormat configure internal/logging.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// PostHogAPIKey/PostHogHost configure the analytics event sink; empty
	// key means events are dropped by a no-op client.
	PostHogAPIKey string `yaml:"posthog_api_key"`
	PostHogHost   string `yaml:"posthog_host"`

	// IgnoreList is the set of names the Checkpoint Manager skips when
	// walking a project root. Each entry is compared literally (no glob
	// matching) with a path's base name and with its leading directory.
	IgnoreList []string `yaml:"ignore_list"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		StateRoot:             defaultStateRoot(),
		DiskQuotaBytes:        0,
		MaxConcurrentSessions: 16,
		SessionDeadline:       30 * time.Minute,
		IdleTimeout:           2 * time.Minute,
		QueueCapacity:         256,
		MaxLineLength:         1 << 20, // 1 MiB
		StderrRingBufferBytes: 64 << 10,
		ZstdLevel:             3, // zstd.SpeedDefault
		LocatorTTL:            1 * time.Hour,
		MinVersion:            "",
		KillGrace:             5 * time.Second,
		ZombieTimeout:         10 * time.Second,
		GCInterval:            1 * time.Hour,
		LogLevel:              "info",
		LogFormat:             "text",
		IgnoreList:            []string{".git", "node_modules", ".corvid"},
	}
}

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsThenFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corvid.yaml")
	require.NoError(t, Save(Config{
		StateRoot:             filepath.Join(dir, "state"),
		MaxConcurrentSessions: 4,
		QueueCapacity:         64,
		MaxLineLength:         1024,
		KillGrace:             1,
		ZstdLevel:             5,
		SessionDeadline:       1,
	}, path))

	env := map[string]string{"MAX_CONCURRENT_SESSIONS": "9"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg, err := Load(WithConfigPath(path), WithEnvLookup(lookup))
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "state"), cfg.StateRoot)
	require.Equal(t, 9, cfg.MaxConcurrentSessions, "env override must win over file value")
	require.Equal(t, 64, cfg.QueueCapacity, "file value must win over default")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")), WithEnvLookup(func(string) (string, bool) {
		return "", false
	}))
	require.NoError(t, err)
	require.Equal(t, Default().MaxConcurrentSessions, cfg.MaxConcurrentSessions)
}

func TestValidateCatchesNonsensicalCaps(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentSessions = 0
	cfg.ZstdLevel = 99
	problems := Validate(cfg)
	require.Contains(t, problems, "max_concurrent_sessions must be positive")
	require.Contains(t, problems, "zstd_level must be between 1 and 22")
}

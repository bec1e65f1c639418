package binarylocator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"corvid/internal/analytics"
	"corvid/internal/logging"
)

type memStore struct {
	rec Record
	ok  bool
}

func (m *memStore) SaveBinaryRecord(r Record) error {
	m.rec, m.ok = r, true
	return nil
}

func (m *memStore) LoadBinaryRecord() (Record, bool, error) {
	return m.rec, m.ok, nil
}

func writeFakeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\necho hi\n"), 0o755))
	return p
}

func TestResolvePrefersOverrideThenCachesResult(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeBinary(t, dir, "claude")

	probeCalls := 0
	probe := func(ctx context.Context, path string) (string, error) {
		probeCalls++
		return "1.5.0", nil
	}

	loc := New(Config{Override: bin, MinVersion: "1.0.0", TTL: time.Hour}, &memStore{}, probe, analytics.Nop(), logging.Nop())

	rec, err := loc.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, bin, rec.Path)
	require.Equal(t, "override", rec.Method)
	require.True(t, rec.Valid)

	// second resolve should hit the cache, not re-probe
	_, err = loc.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, probeCalls)
}

func TestResolveForceBypassesCache(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeBinary(t, dir, "claude")
	probeCalls := 0
	probe := func(ctx context.Context, path string) (string, error) {
		probeCalls++
		return "2.0.0", nil
	}
	loc := New(Config{Override: bin, TTL: time.Hour}, &memStore{}, probe, analytics.Nop(), logging.Nop())

	_, err := loc.Resolve(context.Background(), false)
	require.NoError(t, err)
	_, err = loc.Resolve(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 2, probeCalls)
}

func TestResolveRejectsBelowMinVersion(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeBinary(t, dir, "claude")
	probe := func(ctx context.Context, path string) (string, error) { return "0.9.0", nil }
	loc := New(Config{Override: bin, MinVersion: "1.0.0"}, &memStore{}, probe, analytics.Nop(), logging.Nop())

	_, err := loc.Resolve(context.Background(), false)
	require.Error(t, err)
}

func TestResolveFallsThroughCandidatesOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope")
	bin := writeFakeBinary(t, dir, "claude2")
	probe := func(ctx context.Context, path string) (string, error) { return "1.0.0", nil }

	cfg := Config{Override: missing, StandardPrefixes: []string{dir}, ExecutableName: "claude2"}
	loc := New(cfg, &memStore{}, probe, analytics.Nop(), logging.Nop())

	rec, err := loc.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, bin, rec.Path)
	require.Equal(t, "standard_prefix", rec.Method)
}

func TestInvalidateForcesRediscovery(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeBinary(t, dir, "claude")
	probeCalls := 0
	probe := func(ctx context.Context, path string) (string, error) {
		probeCalls++
		return "1.0.0", nil
	}
	loc := New(Config{Override: bin, TTL: time.Hour}, &memStore{}, probe, analytics.Nop(), logging.Nop())

	_, _ = loc.Resolve(context.Background(), false)
	loc.Invalidate()
	_, _ = loc.Resolve(context.Background(), false)
	require.Equal(t, 2, probeCalls)
}

func TestVersionAtLeast(t *testing.T) {
	require.True(t, versionAtLeast("1.2.3", "1.2.0"))
	require.True(t, versionAtLeast("claude-code 2.0.0", "1.9.9"))
	require.False(t, versionAtLeast("1.0.0", "1.0.1"))
}

package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"corvid/internal/analytics"
	"corvid/internal/binarylocator"
	"corvid/internal/logging"
	"corvid/internal/store"
)

func newTestRegistry(t *testing.T, globalMax int) *Registry {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Config{GlobalMaxSessions: globalMax}, analytics.Nop(), logging.Nop(), nil)
}

func TestRegisterAndUnregisterRoundTrip(t *testing.T) {
	r := newTestRegistry(t, 0)
	pid := os.Getpid()

	rec, err := r.Register(context.Background(), "sess-1", pid, "/usr/bin/true", "hash1")
	require.NoError(t, err)
	require.Equal(t, StateRunning, rec.State)

	list, err := r.List(Filter{State: StateRunning})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, r.Unregister(context.Background(), "sess-1"))
	list, err = r.List(Filter{State: StateRunning})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRegisterEnforcesGlobalMax(t *testing.T) {
	r := newTestRegistry(t, 1)
	pid := os.Getpid()

	_, err := r.Register(context.Background(), "sess-1", pid, "/usr/bin/true", "hash1")
	require.NoError(t, err)

	_, err = r.Register(context.Background(), "sess-2", pid, "/usr/bin/true", "hash2")
	require.Error(t, err)
}

func TestReconcileKeepsLiveProcessRunning(t *testing.T) {
	r := newTestRegistry(t, 0)
	pid := os.Getpid()
	_, err := r.Register(context.Background(), "sess-1", pid, "/usr/bin/true", "hash1")
	require.NoError(t, err)

	orphaned, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Empty(t, orphaned)

	list, err := r.List(Filter{State: StateRunning})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestReconcileOrphansRecordWithMismatchedBootID(t *testing.T) {
	r := newTestRegistry(t, 0)
	pid := os.Getpid()
	rec, err := r.Register(context.Background(), "sess-1", pid, "/usr/bin/true", "hash1")
	require.NoError(t, err)

	// Simulate a restart across a reboot by corrupting the stored boot id.
	rec.BootID = "stale-boot"
	require.NoError(t, r.db.PutJSON(store.Key(recordNamespace, rec.SessionID), rec))

	orphaned, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	require.Equal(t, "sess-1", orphaned[0].SessionID)
}

func TestBinaryRecordPersistsAlongsideRegistry(t *testing.T) {
	r := newTestRegistry(t, 0)
	rec := binarylocator.Record{Path: "/usr/local/bin/claude", Version: "1.2.3", Valid: true}
	require.NoError(t, r.SaveBinaryRecord(rec))

	loaded, ok, err := r.LoadBinaryRecord()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Path, loaded.Path)
}

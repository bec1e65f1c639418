package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"corvid/internal/analytics"
	"corvid/internal/contentstore"
	"corvid/internal/logging"
	"corvid/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	refdb, err := store.Open(filepath.Join(t.TempDir(), "refs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = refdb.Close() })

	cs, err := contentstore.Open(contentstore.Config{Root: filepath.Join(t.TempDir(), "blobs"), ZstdLevel: 3}, refdb, nil)
	require.NoError(t, err)

	metadb, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadb.Close() })

	return New(cs, metadb, Config{IgnoreList: []string{".git"}}, analytics.Nop(), logging.Nop(), nil)
}

func writeProject(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	root := t.TempDir()
	writeProject(t, root, map[string]string{"a.txt": "hello", "sub/b.txt": "world"})

	id, err := m.Create(context.Background(), root, "first", "alice", []string{"v1"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	manifest, err := m.Get(id)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 2)
}

func TestCreateIsDeterministicForIdenticalContent(t *testing.T) {
	m := newTestManager(t)
	root1, root2 := t.TempDir(), t.TempDir()
	writeProject(t, root1, map[string]string{"a.txt": "same"})
	writeProject(t, root2, map[string]string{"a.txt": "same"})

	id1, err := m.Create(context.Background(), root1, "m", "a", nil, "")
	require.NoError(t, err)
	id2, err := m.Create(context.Background(), root2, "m", "a", nil, "")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestDiffDetectsAddedRemovedModified(t *testing.T) {
	m := newTestManager(t)
	rootA := t.TempDir()
	writeProject(t, rootA, map[string]string{"keep.txt": "x", "gone.txt": "y"})
	idA, err := m.Create(context.Background(), rootA, "a", "u", nil, "")
	require.NoError(t, err)

	rootB := t.TempDir()
	writeProject(t, rootB, map[string]string{"keep.txt": "x-changed", "new.txt": "z"})
	idB, err := m.Create(context.Background(), rootB, "b", "u", nil, "")
	require.NoError(t, err)

	diff, err := m.Diff(idA, idB)
	require.NoError(t, err)
	require.Equal(t, []string{"new.txt"}, diff.Added)
	require.Equal(t, []string{"gone.txt"}, diff.Removed)
	require.Equal(t, []string{"keep.txt"}, diff.Modified)
}

func TestRestoreRebuildsWorkingTreeAndRemovesExtraFiles(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	writeProject(t, src, map[string]string{"a.txt": "content-a"})
	id, err := m.Create(context.Background(), src, "m", "u", nil, "")
	require.NoError(t, err)

	target := t.TempDir()
	writeProject(t, target, map[string]string{"stale.txt": "remove me"})

	_, err = m.Restore(context.Background(), id, target, false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "content-a", string(data))

	_, err = os.Stat(filepath.Join(target, "stale.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestRefsRoundTripAndGCRespectsReachability(t *testing.T) {
	m := newTestManager(t)
	root := t.TempDir()
	writeProject(t, root, map[string]string{"a.txt": "keep-me"})
	id, err := m.Create(context.Background(), root, "m", "u", nil, "")
	require.NoError(t, err)

	require.NoError(t, m.CreateRef("main", id))
	got, err := m.GetRef("main")
	require.NoError(t, err)
	require.Equal(t, id, got)

	removed, _, err := m.GC(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	require.NoError(t, m.DeleteRef("main"))
	removed, _, err = m.GC(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

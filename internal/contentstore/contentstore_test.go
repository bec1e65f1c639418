package contentstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"corvid/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "refs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := Open(Config{Root: filepath.Join(t.TempDir(), "blobs"), ZstdLevel: 3}, db, nil)
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte("hello content store")

	hash, err := s.Put(data)
	require.NoError(t, err)
	require.True(t, s.Has(hash))

	got, err := s.Get(hash)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	data := []byte("same content")

	h1, err := s.Put(data)
	require.NoError(t, err)
	h2, err := s.Put(data)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
}

func TestLinkUnlinkTracksRefcount(t *testing.T) {
	s := newTestStore(t)
	hash, err := s.Put([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Link("ckpt-1", hash))
	require.NoError(t, s.Link("ckpt-2", hash))
	count, err := s.Refcount(hash)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, s.Unlink("ckpt-1", hash))
	count, err = s.Refcount(hash)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

type fakeReader struct{ reachable map[Hash]struct{} }

func (f fakeReader) ReachableBlobs() (map[Hash]struct{}, error) { return f.reachable, nil }

func TestGCSweepsUnreferencedBlobs(t *testing.T) {
	s := newTestStore(t)
	kept, err := s.Put([]byte("kept"))
	require.NoError(t, err)
	removed, err := s.Put([]byte("removed"))
	require.NoError(t, err)

	require.NoError(t, s.Link("ckpt-1", kept))

	n, bytesFreed, err := s.GC(fakeReader{reachable: map[Hash]struct{}{kept: {}}}, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Greater(t, bytesFreed, int64(0))

	require.True(t, s.Has(kept))
	require.False(t, s.Has(removed))
}

func TestGCDryRunDoesNotDelete(t *testing.T) {
	s := newTestStore(t)
	hash, err := s.Put([]byte("orphan"))
	require.NoError(t, err)

	n, _, err := s.GC(fakeReader{reachable: map[Hash]struct{}{}}, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, s.Has(hash))
}

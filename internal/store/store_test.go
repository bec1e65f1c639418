package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	Name  string
	Count int
}

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.PutJSON(Key("widget", "1"), widget{Name: "a", Count: 3}))

	var got widget
	ok, err := db.GetJSON(Key("widget", "1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, widget{Name: "a", Count: 3}, got)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	db := openTest(t)
	var got widget
	ok, err := db.GetJSON(Key("widget", "missing"), &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.PutJSON(Key("widget", "1"), widget{Name: "a"}))
	require.NoError(t, db.Delete(Key("widget", "1")))
	require.NoError(t, db.Delete(Key("widget", "1")))

	var got widget
	ok, _ := db.GetJSON(Key("widget", "1"), &got)
	require.False(t, ok)
}

func TestEachIteratesByPrefix(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.PutJSON(Key("widget", "1"), widget{Name: "a"}))
	require.NoError(t, db.PutJSON(Key("widget", "2"), widget{Name: "b"}))
	require.NoError(t, db.PutJSON(Key("other", "1"), widget{Name: "c"}))

	var names []string
	err := db.Each("widget:", func(key, value string) bool {
		var w widget
		_ = json.Unmarshal([]byte(value), &w)
		names = append(names, w.Name)
		return true
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names)
}

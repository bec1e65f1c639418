// Package store wraps github.com/tidwall/buntdb as the embedded, crash-safe
// key/value layer shared by the Process Registry and Binary Locator. Both
// need durable small records with atomic upserts and cheap full scans; a
// single-file buntdb index gives them that without pulling in a server.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/buntdb"

	"corvid/internal/errors"
)

// DB is a thin, typed-value wrapper over a buntdb database file.
type DB struct {
	bunt *buntdb.DB
}

// Open opens (creating if necessary) the buntdb file at path. Pass ":memory:"
// for an ephemeral, test-only database.
func Open(path string) (*DB, error) {
	b, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.Io, "store_open", err)
	}
	return &DB{bunt: b}, nil
}

// Close closes the underlying database file.
func (d *DB) Close() error {
	if d == nil || d.bunt == nil {
		return nil
	}
	return d.bunt.Close()
}

// PutJSON marshals value and upserts it under key in a single transaction.
func (d *DB) PutJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(errors.Internal, "store_marshal", err)
	}
	err = d.bunt.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(data), nil)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.Io, "store_put", err)
	}
	return nil
}

// GetJSON loads the value at key into dst. Returns (false, nil) if absent.
func (d *DB) GetJSON(key string, dst any) (bool, error) {
	var raw string
	err := d.bunt.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.Io, "store_get", err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, errors.Wrap(errors.Corrupt, "store_unmarshal", err)
	}
	return true, nil
}

// Delete removes key; it is not an error if the key is absent.
func (d *DB) Delete(key string) error {
	err := d.bunt.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.Wrap(errors.Io, "store_delete", err)
	}
	return nil
}

// Each iterates every key with the given prefix, invoking fn with the raw
// JSON value. Iteration stops early if fn returns false.
func (d *DB) Each(prefix string, fn func(key, value string) bool) error {
	err := d.bunt.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			return fn(key, value)
		})
	})
	if err != nil {
		return errors.Wrap(errors.Io, "store_iterate", err)
	}
	return nil
}

// Key builds a namespaced key, e.g. Key("session", id).
func Key(namespace, id string) string {
	return fmt.Sprintf("%s:%s", namespace, id)
}

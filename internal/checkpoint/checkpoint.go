// Package checkpoint implements the Checkpoint Manager (spec §4.6): project
// snapshots stored as content-addressed manifests in the Content Store,
// with named refs as GC roots and restore/diff over manifest entries.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"corvid/internal/analytics"
	"corvid/internal/contentstore"
	"corvid/internal/errors"
	"corvid/internal/logging"
	"corvid/internal/metrics"
	"corvid/internal/store"
)

// Entry is one file in a Checkpoint's manifest.
type Entry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Mode uint32 `json:"mode"`
	Size int64  `json:"size"`
}

// Manifest is the canonical, ordered file listing a Checkpoint commits.
type Manifest struct {
	Entries  []Entry `json:"entries"`
	Parent   string  `json:"parent,omitempty"`
	Author   string  `json:"author"`
	Message  string  `json:"message"`
	Tags     []string `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// identity is the content-identifying subset of a Manifest: everything the
// checkpoint id is computed from. Author, Message, Tags, and CreatedAt are
// stored metadata, not content — excluding them is what makes two Creates
// over an unchanged working tree yield the same id regardless of when or
// by whom they were run.
type identity struct {
	Entries []Entry `json:"entries"`
	Parent  string  `json:"parent,omitempty"`
}

// canonicalBytes returns the deterministic encoding used to compute the
// checkpoint id, so identical file sets always produce identical ids
// (spec §4.6 ordering guarantee, spec §8 checkpoint idempotence).
func (m Manifest) canonicalBytes() ([]byte, error) {
	sorted := make([]Entry, len(m.Entries))
	copy(sorted, m.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return json.Marshal(identity{Entries: sorted, Parent: m.Parent})
}

// ID computes the checkpoint id: the SHA-256 of the canonical content
// identity (entries + parent only).
func (m Manifest) ID() (string, error) {
	data, err := m.canonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Diff describes the difference between two manifests.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

const (
	manifestNamespace = "checkpoint"
	refNamespace      = "ref"
)

// Manager is the Checkpoint Manager.
type Manager struct {
	cs         *contentstore.Store
	db         *store.DB
	ignoreList []string
	events     analytics.Client
	log        logging.Logger
	metrics    *metrics.Registry

	mu sync.Mutex
}

// Config configures ignore patterns.
type Config struct {
	IgnoreList []string
}

// New constructs a Manager backed by cs for blob storage and db for manifest
// and ref persistence. mreg may be nil.
func New(cs *contentstore.Store, db *store.DB, cfg Config, events analytics.Client, log logging.Logger, mreg *metrics.Registry) *Manager {
	return &Manager{cs: cs, db: db, ignoreList: cfg.IgnoreList, events: analytics.OrNop(events), log: logging.OrNop(log), metrics: metrics.OrNop(mreg)}
}

// Create walks projectRoot, writes each file's content into the Content
// Store, and commits a manifest. All blobs are linked before the manifest
// is persisted; on any failure already-linked blobs are unlinked so a
// partial create never leaves a dangling refcount.
func (m *Manager) Create(ctx context.Context, projectRoot, message, author string, tags []string, parent string) (string, error) {
	entries, err := m.walk(projectRoot)
	if err != nil {
		return "", err
	}

	manifest := Manifest{Entries: entries, Parent: parent, Author: author, Message: message, Tags: tags, CreatedAt: time.Now()}
	id, err := manifest.ID()
	if err != nil {
		return "", errors.Wrap(errors.Internal, "cm_manifest_id", err)
	}

	linked := make([]string, 0, len(entries))
	rollback := func() {
		for _, h := range linked {
			_ = m.cs.Unlink(id, h)
		}
	}
	for _, e := range entries {
		if err := m.cs.Link(id, e.Hash); err != nil {
			rollback()
			return "", errors.Wrap(errors.Io, "cm_link", err)
		}
		linked = append(linked, e.Hash)
	}

	if err := m.db.PutJSON(store.Key(manifestNamespace, id), manifest); err != nil {
		rollback()
		return "", err
	}

	m.events.Publish(ctx, id, analytics.EventCheckpointCreated, map[string]any{"files": len(entries)})
	return id, nil
}

func (m *Manager) walk(projectRoot string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(projectRoot, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if m.ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if m.ignored(rel) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hash, err := m.cs.Put(data)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path: filepath.ToSlash(rel),
			Hash: hash,
			Mode: uint32(info.Mode().Perm()),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.Io, "cm_walk", err)
	}
	return entries, nil
}

func (m *Manager) ignored(rel string) bool {
	base := filepath.Base(rel)
	for _, pattern := range m.ignoreList {
		if base == pattern || strings.HasPrefix(rel, pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Get loads a manifest by checkpoint id.
func (m *Manager) Get(id string) (Manifest, error) {
	var manifest Manifest
	ok, err := m.db.GetJSON(store.Key(manifestNamespace, id), &manifest)
	if err != nil {
		return Manifest{}, err
	}
	if !ok {
		return Manifest{}, errors.New(errors.NotFound, "cm_not_found", "checkpoint not found: "+id)
	}
	return manifest, nil
}

// Filter narrows List results by tag; empty matches everything.
type Filter struct {
	Tag string
}

// List returns every checkpoint id matching filter, paired with its manifest.
func (m *Manager) List(filter Filter) (map[string]Manifest, error) {
	out := make(map[string]Manifest)
	err := m.db.Each(manifestNamespace+":", func(key, value string) bool {
		var manifest Manifest
		if err := json.Unmarshal([]byte(value), &manifest); err != nil {
			return true
		}
		id := strings.TrimPrefix(key, manifestNamespace+":")
		if filter.Tag == "" || containsTag(manifest.Tags, filter.Tag) {
			out[id] = manifest
		}
		return true
	})
	return out, err
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Diff computes the added/removed/modified path sets between two checkpoints.
func (m *Manager) Diff(a, b string) (Diff, error) {
	ma, err := m.Get(a)
	if err != nil {
		return Diff{}, err
	}
	mb, err := m.Get(b)
	if err != nil {
		return Diff{}, err
	}

	byPathA := entryMap(ma.Entries)
	byPathB := entryMap(mb.Entries)

	var d Diff
	for path, eb := range byPathB {
		ea, ok := byPathA[path]
		if !ok {
			d.Added = append(d.Added, path)
		} else if ea.Hash != eb.Hash {
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range byPathA {
		if _, ok := byPathB[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d, nil
}

func entryMap(entries []Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Path] = e
	}
	return out
}

// Restore rebuilds targetRoot from a checkpoint's manifest. If createBackup
// is true, a checkpoint of targetRoot's current state is created first.
// Files are written via temp-file + rename; files present on disk but absent
// from the manifest are removed last, after every manifest file has been
// written successfully.
func (m *Manager) Restore(ctx context.Context, id, targetRoot string, createBackup bool) (backupID string, err error) {
	if createBackup {
		backupID, err = m.Create(ctx, targetRoot, "pre-restore backup", "system", []string{"backup"}, "")
		if err != nil {
			return "", err
		}
	}

	manifest, err := m.Get(id)
	if err != nil {
		return backupID, err
	}

	wanted := make(map[string]struct{}, len(manifest.Entries))
	for _, e := range manifest.Entries {
		wanted[e.Path] = struct{}{}
		data, err := m.cs.Get(e.Hash)
		if err != nil {
			return backupID, err
		}
		dst := filepath.Join(targetRoot, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return backupID, errors.Wrap(errors.Io, "cm_restore_mkdir", err)
		}
		tmp := dst + ".tmp-restore"
		if err := os.WriteFile(tmp, data, fs.FileMode(e.Mode)); err != nil {
			return backupID, errors.Wrap(errors.Io, "cm_restore_write", err)
		}
		if err := os.Rename(tmp, dst); err != nil {
			return backupID, errors.Wrap(errors.Io, "cm_restore_rename", err)
		}
	}

	_ = filepath.WalkDir(targetRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(targetRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if _, ok := wanted[rel]; !ok && !m.ignored(rel) {
			_ = os.Remove(path)
		}
		return nil
	})

	m.events.Publish(ctx, id, analytics.EventCheckpointRestored, map[string]any{"target": targetRoot})
	return backupID, nil
}

// CreateRef names id as ref.
func (m *Manager) CreateRef(name, id string) error {
	if _, err := m.Get(id); err != nil {
		return err
	}
	return m.db.PutJSON(store.Key(refNamespace, name), id)
}

// GetRef returns the checkpoint id named by ref.
func (m *Manager) GetRef(name string) (string, error) {
	var id string
	ok, err := m.db.GetJSON(store.Key(refNamespace, name), &id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New(errors.NotFound, "cm_ref_not_found", "ref not found: "+name)
	}
	return id, nil
}

// DeleteRef removes a named ref.
func (m *Manager) DeleteRef(name string) error {
	return m.db.Delete(store.Key(refNamespace, name))
}

// ListRefs returns every ref name to checkpoint id.
func (m *Manager) ListRefs() (map[string]string, error) {
	out := make(map[string]string)
	err := m.db.Each(refNamespace+":", func(key, value string) bool {
		var id string
		if err := json.Unmarshal([]byte(value), &id); err != nil {
			return true
		}
		out[strings.TrimPrefix(key, refNamespace+":")] = id
		return true
	})
	return out, err
}

// ReachableBlobs implements contentstore.ManifestReader: every blob hash
// transitively reachable from a ref, following parent checkpoint chains.
func (m *Manager) ReachableBlobs() (map[string]struct{}, error) {
	refs, err := m.ListRefs()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	marked := make(map[string]struct{})
	for _, id := range refs {
		if err := m.markChain(id, seen, marked); err != nil {
			return nil, err
		}
	}
	return marked, nil
}

func (m *Manager) markChain(id string, seen, marked map[string]struct{}) error {
	for id != "" {
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		manifest, err := m.Get(id)
		if err != nil {
			return nil // a ref pointing at a removed checkpoint is not fatal to GC
		}
		for _, e := range manifest.Entries {
			marked[e.Hash] = struct{}{}
		}
		id = manifest.Parent
	}
	return nil
}

// GC delegates to the Content Store after confirming refs are GC's only
// roots, then reports the totals for the caller's analytics event.
func (m *Manager) GC(ctx context.Context, dryRun bool) (objectsRemoved int, bytesFreed int64, err error) {
	n, freed, err := m.cs.GC(m, dryRun)
	if err != nil {
		return 0, 0, err
	}
	m.events.Publish(ctx, "", analytics.EventCheckpointGCRun, map[string]any{"removed": n, "bytes_freed": freed, "dry_run": dryRun})
	return n, freed, nil
}

// Package contentstore implements the Content Store (spec §4.1):
// SHA-256-addressed, zstd-compressed blob storage with a crash-safe
// refcount index and mark-and-sweep garbage collection, shared by the
// Checkpoint Manager.
package contentstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"corvid/internal/errors"
	"corvid/internal/metrics"
	"corvid/internal/store"
)

// Hash is a lowercase hex-encoded SHA-256 digest of uncompressed content.
type Hash = string

// Config configures the store.
type Config struct {
	Root           string
	ZstdLevel      int
	MaxBytes       int64 // 0 means unbounded
	TempGracePeriod time.Duration
}

// Store is the Content Store.
type Store struct {
	cfg       Config
	refdb     *store.DB
	encLvl    zstd.EncoderLevel
	writeMu   sync.Mutex
	usedBytes int64 // atomic; compressed on-disk bytes, checked against cfg.MaxBytes
	metrics   *metrics.Registry
}

const refNamespace = "blobref" // key: blobref:<hash> -> refIndex

type refIndex struct {
	Holders map[string]int // checkpoint id -> hold count (a checkpoint may link the same blob via >1 path)
}

// Open opens or creates a content store rooted at cfg.Root, using refdb for
// the crash-safe refcount index (the same buntdb file family the Process
// Registry uses, opened under its own path). mreg may be nil; a nil
// Registry records against a private no-op one.
func Open(cfg Config, refdb *store.DB, mreg *metrics.Registry) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New(errors.Invalid, "cs_no_root", "content store root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, errors.Wrap(errors.Io, "cs_mkdir", err)
	}
	lvl := zstd.SpeedDefault
	switch {
	case cfg.ZstdLevel <= 1:
		lvl = zstd.SpeedFastest
	case cfg.ZstdLevel >= 19:
		lvl = zstd.SpeedBestCompression
	case cfg.ZstdLevel >= 9:
		lvl = zstd.SpeedBetterCompression
	}
	s := &Store{cfg: cfg, refdb: refdb, encLvl: lvl, metrics: metrics.OrNop(mreg)}
	if cfg.MaxBytes > 0 {
		entries, err := s.listShardedBlobs()
		if err != nil {
			return nil, err
		}
		var total int64
		for _, e := range entries {
			total += e.size
		}
		atomic.StoreInt64(&s.usedBytes, total)
	}
	return s, nil
}

func (s *Store) shardPath(hash Hash) string {
	shard := hash[:2]
	return filepath.Join(s.cfg.Root, shard, hash+".zst")
}

// Put computes the SHA-256 of data, compresses it with zstd, and writes it
// atomically (temp file + rename) to its content-addressed path. Put never
// changes refcounts; that happens via Link at checkpoint-commit time.
func (s *Store) Put(data []byte) (Hash, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	dst := s.shardPath(hash)
	if _, err := os.Stat(dst); err == nil {
		return hash, nil // idempotent: identical content already stored
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(errors.Io, "cs_mkdir_shard", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(s.encLvl))
	if err != nil {
		return "", errors.Wrap(errors.Internal, "cs_zstd_writer", err)
	}
	compressed := enc.EncodeAll(data, nil)
	_ = enc.Close()

	size := int64(len(compressed))
	if s.cfg.MaxBytes > 0 {
		if atomic.LoadInt64(&s.usedBytes)+size > s.cfg.MaxBytes {
			return "", errors.New(errors.QuotaExceeded, "cs_quota_exceeded", "content store disk quota exceeded")
		}
	}

	tmp := dst + ".tmp-" + randomSuffix()
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return "", errors.Wrap(errors.Io, "cs_write_temp", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(errors.Io, "cs_rename", err)
	}
	if s.cfg.MaxBytes > 0 {
		atomic.AddInt64(&s.usedBytes, size)
	}
	s.metrics.BlobsStored.Inc()
	return hash, nil
}

// Get reads and decompresses the blob at hash, verifying the decompressed
// content matches hash.
func (s *Store) Get(hash Hash) ([]byte, error) {
	path := s.shardPath(hash)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.NotFound, "cs_not_found", "blob not found: "+hash)
		}
		return nil, errors.Wrap(errors.Io, "cs_read", err)
	}
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.Corrupt, "cs_zstd_reader", err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, errors.Wrap(errors.Corrupt, "cs_decompress", err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, errors.New(errors.Corrupt, "cs_hash_mismatch", "decompressed content does not match its hash")
	}
	return data, nil
}

// Has reports whether a blob with hash exists, without reading or verifying it.
func (s *Store) Has(hash Hash) bool {
	_, err := os.Stat(s.shardPath(hash))
	return err == nil
}

// Link increments the refcount held by checkpointID for hash. Crash-safe:
// the index update is a single buntdb transaction.
func (s *Store) Link(checkpointID string, hash Hash) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := store.Key(refNamespace, hash)
	var idx refIndex
	ok, err := s.refdb.GetJSON(key, &idx)
	if err != nil {
		return err
	}
	if !ok {
		idx.Holders = map[string]int{}
	}
	if idx.Holders == nil {
		idx.Holders = map[string]int{}
	}
	idx.Holders[checkpointID]++
	return s.refdb.PutJSON(key, idx)
}

// Unlink decrements the refcount held by checkpointID for hash, removing the
// holder entry once it reaches zero. It does not delete the blob; GC does
// that in a separate mark-and-sweep pass.
func (s *Store) Unlink(checkpointID string, hash Hash) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := store.Key(refNamespace, hash)
	var idx refIndex
	ok, err := s.refdb.GetJSON(key, &idx)
	if err != nil || !ok {
		return err
	}
	if idx.Holders[checkpointID] > 1 {
		idx.Holders[checkpointID]--
	} else {
		delete(idx.Holders, checkpointID)
	}
	if len(idx.Holders) == 0 {
		return s.refdb.Delete(key)
	}
	return s.refdb.PutJSON(key, idx)
}

// Refcount returns the number of distinct checkpoints holding a reference to hash.
func (s *Store) Refcount(hash Hash) (int, error) {
	var idx refIndex
	ok, err := s.refdb.GetJSON(store.Key(refNamespace, hash), &idx)
	if err != nil || !ok {
		return 0, err
	}
	return len(idx.Holders), nil
}

// ManifestReader is the minimal view the Checkpoint Manager exposes of its
// live refs and manifests, so GC can compute the reachable set without
// content store depending on the checkpoint package's concrete types.
type ManifestReader interface {
	// ReachableBlobs returns the set of blob hashes transitively reachable
	// from every ref (GC root), following parent checkpoint chains.
	ReachableBlobs() (map[Hash]struct{}, error)
}

// GC performs a two-phase mark-and-sweep: mark every blob hash reachable
// from reader, then sweep every stored blob not in the marked set and with
// zero refcount. When dryRun is true, no files are deleted; the would-be
// counts are still returned.
func (s *Store) GC(reader ManifestReader, dryRun bool) (blobsRemoved int, bytesFreed int64, err error) {
	marked, err := reader.ReachableBlobs()
	if err != nil {
		return 0, 0, err
	}

	entries, err := s.listShardedBlobs()
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		if _, ok := marked[e.hash]; ok {
			continue
		}
		count, rcErr := s.Refcount(e.hash)
		if rcErr != nil {
			continue
		}
		if count > 0 {
			continue
		}
		blobsRemoved++
		bytesFreed += e.size
		if !dryRun {
			_ = os.Remove(e.path)
			if s.cfg.MaxBytes > 0 {
				atomic.AddInt64(&s.usedBytes, -e.size)
			}
		}
	}
	if !dryRun {
		s.sweepStaleTempFiles()
		s.metrics.BlobsFreedByGC.Add(float64(blobsRemoved))
		s.metrics.BytesFreedByGC.Add(float64(bytesFreed))
	}
	return blobsRemoved, bytesFreed, nil
}

type blobEntry struct {
	hash Hash
	path string
	size int64
}

func (s *Store) listShardedBlobs() ([]blobEntry, error) {
	var out []blobEntry
	shards, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, errors.Wrap(errors.Io, "cs_list_shards", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.cfg.Root, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if len(name) < 5 || name[len(name)-4:] != ".zst" {
				continue
			}
			hash := name[:len(name)-4]
			info, err := f.Info()
			if err != nil {
				continue
			}
			out = append(out, blobEntry{hash: hash, path: filepath.Join(shardDir, name), size: info.Size()})
		}
	}
	return out, nil
}

// sweepStaleTempFiles removes interrupted-write temp files older than the
// configured grace period, per the crash-safety guarantee in §4.1.
func (s *Store) sweepStaleTempFiles() {
	grace := s.cfg.TempGracePeriod
	if grace <= 0 {
		grace = time.Hour
	}
	cutoff := time.Now().Add(-grace)
	shards, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.cfg.Root, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !isTempName(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				_ = os.Remove(filepath.Join(shardDir, f.Name()))
			}
		}
	}
}

func isTempName(name string) bool {
	return strings.Contains(name, ".tmp-")
}

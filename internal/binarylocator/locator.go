// Package binarylocator implements the Binary Locator component (spec §4.3):
// discovery, caching, and TTL/explicit revalidation of the external CLI
// executable the Session Supervisor spawns.
package binarylocator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"corvid/internal/analytics"
	"corvid/internal/errors"
	"corvid/internal/logging"
)

// Record is the persisted Binary Record from the data model (§3).
type Record struct {
	Path           string
	Version        string
	Method         string // "override" | "path" | "version_manager" | "standard_prefix"
	DiscoveredAt   time.Time
	LastVerifiedAt time.Time
	Valid          bool
}

// Store persists the latest Record across restarts. Implemented by the
// registry package, which keeps it in the same buntdb file as the process
// records (registry/processes.db); declared here to keep binarylocator
// decoupled from the registry's storage choice.
type Store interface {
	SaveBinaryRecord(Record) error
	LoadBinaryRecord() (Record, bool, error)
}

// Probe runs the candidate binary with a version argument and parses its
// first output line into a version string. Swappable for tests.
type Probe func(ctx context.Context, path string) (version string, err error)

// Constraint validates a probed version string against a minimum.
type Constraint func(version string) bool

// Config configures discovery.
type Config struct {
	ExecutableName   string   // e.g. "claude"
	Override         string   // explicit path from config
	VersionManagerGlobs []string
	StandardPrefixes []string
	TTL              time.Duration
	VersionArg       string
	MinVersion       string
}

// Locator resolves, caches, and revalidates the executable.
type Locator struct {
	cfg     Config
	store   Store
	probe   Probe
	cons    Constraint
	events  analytics.Client
	log     logging.Logger
	cache   *lru.Cache[string, Record]
	mu      sync.Mutex
	lookPath func(string) (string, error)
}

const cacheKey = "current"

// New constructs a Locator. A nil probe defaults to running the candidate
// with --version via exec.Command; PATH lookup always uses exec.LookPath.
func New(cfg Config, store Store, probe Probe, events analytics.Client, log logging.Logger) *Locator {
	if probe == nil {
		probe = defaultProbe
	}
	cache, _ := lru.New[string, Record](4)
	return &Locator{
		cfg:      cfg,
		store:    store,
		probe:    probe,
		cons:     minVersionConstraint(cfg.MinVersion),
		events:   analytics.OrNop(events),
		log:      logging.OrNop(log),
		cache:    cache,
		lookPath: exec.LookPath,
	}
}

func defaultProbe(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, path, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	return strings.TrimSpace(line), nil
}

func minVersionConstraint(min string) Constraint {
	if min == "" {
		return func(string) bool { return true }
	}
	return func(version string) bool {
		return versionAtLeast(version, min)
	}
}

// Resolve returns the cached record if fresh and valid; otherwise it runs
// the discovery chain. force bypasses freshness and always re-discovers.
func (l *Locator) Resolve(ctx context.Context, force bool) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !force {
		if rec, ok := l.cache.Get(cacheKey); ok && l.fresh(rec) {
			return rec, nil
		}
		if l.store != nil {
			if rec, ok, err := l.store.LoadBinaryRecord(); err == nil && ok && l.fresh(rec) {
				l.cache.Add(cacheKey, rec)
				return rec, nil
			}
		}
	}

	rec, err := l.discover(ctx)
	if err != nil {
		l.events.Publish(ctx, "", analytics.EventBinaryResolveFailed, map[string]any{"error": err.Error()})
		return Record{}, err
	}
	l.cache.Add(cacheKey, rec)
	if l.store != nil {
		_ = l.store.SaveBinaryRecord(rec)
	}
	l.events.Publish(ctx, "", analytics.EventBinaryResolved, map[string]any{
		"path": rec.Path, "version": rec.Version, "method": rec.Method,
	})
	return rec, nil
}

func (l *Locator) fresh(rec Record) bool {
	if !rec.Valid {
		return false
	}
	ttl := l.cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return time.Since(rec.LastVerifiedAt) < ttl
}

// Invalidate forces the next Resolve to rediscover.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Remove(cacheKey)
	if l.store != nil {
		if rec, ok, err := l.store.LoadBinaryRecord(); err == nil && ok && rec.Valid {
			rec.Valid = false
			_ = l.store.SaveBinaryRecord(rec)
		}
	}
}

func (l *Locator) discover(ctx context.Context) (Record, error) {
	candidates := l.candidates()
	if len(candidates) == 0 {
		return Record{}, errors.New(errors.NotFound, "locator_no_candidates", "no binary discovery sources configured")
	}

	var lastErr error
	for _, c := range candidates {
		if _, err := os.Stat(c.path); err != nil {
			continue
		}
		version, err := l.probe(ctx, c.path)
		if err != nil {
			lastErr = err
			l.log.Warn("binary candidate failed version probe: %s: %v", c.path, err)
			continue
		}
		if !l.cons(version) {
			lastErr = fmt.Errorf("version %q does not satisfy minimum %q", version, l.cfg.MinVersion)
			continue
		}
		now := time.Now()
		return Record{
			Path: c.path, Version: version, Method: c.method,
			DiscoveredAt: now, LastVerifiedAt: now, Valid: true,
		}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate executable found")
	}
	return Record{}, errors.Wrap(errors.NotFound, "locator_exhausted", lastErr)
}

type candidate struct {
	path   string
	method string
}

// candidates builds the ordered discovery chain from spec §4.3: explicit
// override, PATH lookup, version-manager globs, standard install prefixes.
func (l *Locator) candidates() []candidate {
	var out []candidate

	if l.cfg.Override != "" {
		out = append(out, candidate{path: l.cfg.Override, method: "override"})
	}
	if l.cfg.ExecutableName != "" {
		if p, err := l.lookPath(l.cfg.ExecutableName); err == nil {
			out = append(out, candidate{path: p, method: "path"})
		}
	}
	for _, g := range l.cfg.VersionManagerGlobs {
		matches, _ := filepath.Glob(g)
		for _, m := range matches {
			out = append(out, candidate{path: m, method: "version_manager"})
		}
	}
	for _, prefix := range l.cfg.StandardPrefixes {
		p := filepath.Join(prefix, l.cfg.ExecutableName)
		out = append(out, candidate{path: p, method: "standard_prefix"})
	}
	return out
}

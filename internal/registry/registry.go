// Package registry implements the Process Registry component (spec §4.4):
// a durable, cross-invocation record of spawned child processes, reconciled
// against the live OS process table on startup so a restarted server never
// mistakes a reused PID for a session it still owns.
//
// The identity-matching technique (shell out to ps rather than trust the PID
// alone) is the same one the teacher's process manager uses; this package
// adds the host boot id and OS start-time signature the spec requires to
// survive the case ps cannot distinguish: a stale PID file naming a PID the
// OS has since reassigned to an unrelated process after a reboot.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"corvid/internal/analytics"
	"corvid/internal/binarylocator"
	"corvid/internal/errors"
	"corvid/internal/logging"
	"corvid/internal/metrics"
	"corvid/internal/store"
)

// State is the Child Process Record's lifecycle state.
type State string

const (
	StateRunning  State = "running"
	StateTerminal State = "terminal"
	StateOrphaned State = "orphaned"
)

// Record is the Child Process Record from the data model (§3).
type Record struct {
	SessionID      string
	PID            int
	ExecutablePath string
	ArgvHash       string
	StartTime      string // OS-reported start-time signature (opaque string, compared for equality only)
	BootID         string
	State          State
	RegisteredAt   time.Time
	LivenessCheckedAt time.Time
}

// Filter narrows List results. A zero Filter matches everything.
type Filter struct {
	State State // empty matches any state
}

// Registry is the Process Registry.
type Registry struct {
	db        *store.DB
	bootID    string
	globalMax int
	events    analytics.Client
	log       logging.Logger
	metrics   *metrics.Registry

	mu      sync.Mutex
	running int
}

// Config configures the registry.
type Config struct {
	GlobalMaxSessions int
}

// New constructs a Registry backed by db. db is also used to persist the
// Binary Locator's cached record (registry.go §4.3 persistence note), via
// the SaveBinaryRecord/LoadBinaryRecord methods below. mreg may be nil.
func New(db *store.DB, cfg Config, events analytics.Client, log logging.Logger, mreg *metrics.Registry) *Registry {
	return &Registry{
		db:        db,
		bootID:    bootID(),
		globalMax: cfg.GlobalMaxSessions,
		events:    analytics.OrNop(events),
		log:       logging.OrNop(log),
		metrics:   metrics.OrNop(mreg),
	}
}

const recordNamespace = "process"
const binaryRecordKey = "binary:current"

// Register durably records a newly spawned child. It fails with
// errors.QuotaExceeded if the global concurrency cap (enforce_limits) would
// be exceeded.
func (r *Registry) Register(ctx context.Context, sessionID string, pid int, execPath, argvHash string) (Record, error) {
	r.mu.Lock()
	if r.globalMax > 0 && r.running >= r.globalMax {
		r.mu.Unlock()
		return Record{}, errors.New(errors.QuotaExceeded, "registry_global_max", "global concurrent session limit reached")
	}
	r.running++
	r.mu.Unlock()

	start, err := startTimeSignature(pid)
	if err != nil {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
		return Record{}, errors.Wrap(errors.Internal, "registry_start_time", err)
	}

	rec := Record{
		SessionID:         sessionID,
		PID:               pid,
		ExecutablePath:    execPath,
		ArgvHash:          argvHash,
		StartTime:         start,
		BootID:            r.bootID,
		State:             StateRunning,
		RegisteredAt:      time.Now(),
		LivenessCheckedAt: time.Now(),
	}
	if err := r.db.PutJSON(store.Key(recordNamespace, sessionID), rec); err != nil {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
		return Record{}, err
	}
	return rec, nil
}

// Unregister marks a session's record terminal. Idempotent.
func (r *Registry) Unregister(ctx context.Context, sessionID string) error {
	var rec Record
	ok, err := r.db.GetJSON(store.Key(recordNamespace, sessionID), &rec)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.State == StateRunning {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
	}
	rec.State = StateTerminal
	return r.db.PutJSON(store.Key(recordNamespace, sessionID), rec)
}

// List returns every record matching filter.
func (r *Registry) List(filter Filter) ([]Record, error) {
	var out []Record
	err := r.db.Each(recordNamespace+":", func(_, value string) bool {
		var rec Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return true
		}
		if filter.State == "" || rec.State == filter.State {
			out = append(out, rec)
		}
		return true
	})
	return out, err
}

// Reconcile walks every non-terminal record and checks it against the live
// OS process table. Records whose process no longer exists, or whose
// start-time/boot-id signature no longer matches (PID reuse), transition to
// Orphaned and are reported back to the caller so the Session Supervisor can
// emit a zombie/orphan notification for each.
func (r *Registry) Reconcile(ctx context.Context) ([]Record, error) {
	records, err := r.List(Filter{State: StateRunning})
	if err != nil {
		return nil, err
	}
	var orphaned []Record
	for _, rec := range records {
		alive := r.signatureMatches(rec)
		if alive {
			rec.LivenessCheckedAt = time.Now()
			_ = r.db.PutJSON(store.Key(recordNamespace, rec.SessionID), rec)
			continue
		}
		rec.State = StateOrphaned
		rec.LivenessCheckedAt = time.Now()
		if err := r.db.PutJSON(store.Key(recordNamespace, rec.SessionID), rec); err != nil {
			continue
		}
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
		orphaned = append(orphaned, rec)
		r.events.Publish(ctx, rec.SessionID, analytics.EventRegistryOrphaned, map[string]any{
			"pid": rec.PID,
		})
		r.metrics.SessionsFailed.Inc()
	}
	return orphaned, nil
}

func (r *Registry) signatureMatches(rec Record) bool {
	if rec.BootID != r.bootID {
		return false
	}
	if !isProcessAlive(rec.PID) {
		return false
	}
	current, err := startTimeSignature(rec.PID)
	if err != nil {
		return false
	}
	return current == rec.StartTime
}

// SaveBinaryRecord implements binarylocator.Store, persisting the latest
// resolved binary record alongside process records in the same database
// (spec §4.3: "persisted alongside the process registry").
func (r *Registry) SaveBinaryRecord(rec binarylocator.Record) error {
	return r.db.PutJSON(binaryRecordKey, rec)
}

// LoadBinaryRecord implements binarylocator.Store.
func (r *Registry) LoadBinaryRecord() (binarylocator.Record, bool, error) {
	var rec binarylocator.Record
	ok, err := r.db.GetJSON(binaryRecordKey, &rec)
	return rec, ok, err
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// startTimeSignature shells out to ps for a stable per-process start-time
// string, the same technique the teacher's process manager uses for command
// identity matching.
func startTimeSignature(pid int) (string, error) {
	out, err := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", fmt.Errorf("ps lstart for pid %d: %w", pid, err)
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return "", fmt.Errorf("empty start time for pid %d", pid)
	}
	return line, nil
}

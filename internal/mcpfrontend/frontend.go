// Package mcpfrontend implements the MCP Frontend (spec §4.7): a
// decoded-request dispatcher over the Session Supervisor, Checkpoint
// Manager, and Binary Locator, plus asynchronous per-session notification
// fan-out. It consumes and emits decoded Go values; wire framing (stdio,
// SSE, websocket) is an external collaborator this package does not own.
package mcpfrontend

import (
	"context"

	"corvid/internal/binarylocator"
	"corvid/internal/checkpoint"
	"corvid/internal/config"
	"corvid/internal/errors"
	"corvid/internal/logging"
	"corvid/internal/registry"
	"corvid/internal/streamengine"
	"corvid/internal/supervisor"
)

// Frontend dispatches decoded MCP operations.
type Frontend struct {
	supervisor *supervisor.Supervisor
	checkpoint *checkpoint.Manager
	locator    *binarylocator.Locator
	registry   *registry.Registry
	cfg        config.Config
	log        logging.Logger
}

// New constructs a Frontend wiring together the core components.
func New(sv *supervisor.Supervisor, cm *checkpoint.Manager, loc *binarylocator.Locator, reg *registry.Registry, cfg config.Config, log logging.Logger) *Frontend {
	return &Frontend{supervisor: sv, checkpoint: cm, locator: loc, registry: reg, cfg: cfg, log: logging.OrNop(log).With("mcpfrontend")}
}

// DiscoverExecutableResult is the decoded result of discovering the binary.
type DiscoverExecutableResult struct {
	Path    string
	Version string
	Method  string
}

// DiscoverExecutable resolves the external CLI, returning NotFound if no
// candidate satisfies the configured constraints.
func (f *Frontend) DiscoverExecutable(ctx context.Context, force bool) (DiscoverExecutableResult, error) {
	rec, err := f.locator.Resolve(ctx, force)
	if err != nil {
		return DiscoverExecutableResult{}, err
	}
	return DiscoverExecutableResult{Path: rec.Path, Version: rec.Version, Method: rec.Method}, nil
}

// CreateSessionRequest is the decoded request for session creation.
type CreateSessionRequest struct {
	Prompt             string
	ModelTag           string
	ParentCheckpointID string
	Args               []string
}

// CreateSessionResult is returned to the caller immediately; the session's
// lifecycle continues asynchronously and is observed via Notifications.
type CreateSessionResult struct {
	SessionID string
	State     string
}

// CreateSession creates and starts a session.
func (f *Frontend) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error) {
	fingerprint := fingerprintPrompt(req.Prompt)
	sess, err := f.supervisor.CreateSession(ctx, req.ModelTag, req.ParentCheckpointID, fingerprint, req.Args)
	if err != nil {
		return CreateSessionResult{}, err
	}
	return CreateSessionResult{SessionID: sess.ID, State: string(sess.State())}, nil
}

// SendMessage writes a message to a running session's stdin.
func (f *Frontend) SendMessage(ctx context.Context, sessionID string, content any) error {
	return f.supervisor.SendMessage(ctx, sessionID, content)
}

// CancelSession requests cancellation; idempotent on an already-terminal session.
func (f *Frontend) CancelSession(ctx context.Context, sessionID string) error {
	return f.supervisor.CancelSession(ctx, sessionID)
}

// SessionSnapshot is a decoded view of a session for ListSessions.
type SessionSnapshot struct {
	SessionID string
	State     string
}

// ListSessions returns a snapshot of every registered session, optionally
// filtered by registry state.
func (f *Frontend) ListSessions(filter registry.Filter) ([]SessionSnapshot, error) {
	records, err := f.registry.List(filter)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSnapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, SessionSnapshot{SessionID: rec.SessionID, State: string(rec.State)})
	}
	return out, nil
}

// Notifications returns the bounded stream of records for sessionID. The
// channel is closed when the session reaches a terminal state and its
// queue has fully drained.
func (f *Frontend) Notifications(sessionID string) (<-chan streamengine.Record, error) {
	sess, err := f.supervisor.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Notifications(), nil
}

// CreateCheckpoint creates a checkpoint over projectRoot.
func (f *Frontend) CreateCheckpoint(ctx context.Context, projectRoot, message, author string, tags []string, parent string) (string, error) {
	return f.checkpoint.Create(ctx, projectRoot, message, author, tags, parent)
}

// ListCheckpoints returns every checkpoint matching filter.
func (f *Frontend) ListCheckpoints(filter checkpoint.Filter) (map[string]checkpoint.Manifest, error) {
	return f.checkpoint.List(filter)
}

// GetCheckpoint returns a single checkpoint's manifest.
func (f *Frontend) GetCheckpoint(id string) (checkpoint.Manifest, error) {
	return f.checkpoint.Get(id)
}

// RestoreCheckpoint rebuilds targetRoot from a checkpoint.
func (f *Frontend) RestoreCheckpoint(ctx context.Context, id, targetRoot string, createBackup bool) (backupID string, err error) {
	return f.checkpoint.Restore(ctx, id, targetRoot, createBackup)
}

// DiffCheckpoints computes the added/removed/modified sets between two checkpoints.
func (f *Frontend) DiffCheckpoints(a, b string) (checkpoint.Diff, error) {
	return f.checkpoint.Diff(a, b)
}

// CreateRef, GetRef, DeleteRef, ListRefs expose named checkpoint pointers.
func (f *Frontend) CreateRef(name, id string) error       { return f.checkpoint.CreateRef(name, id) }
func (f *Frontend) GetRef(name string) (string, error)    { return f.checkpoint.GetRef(name) }
func (f *Frontend) DeleteRef(name string) error           { return f.checkpoint.DeleteRef(name) }
func (f *Frontend) ListRefs() (map[string]string, error)  { return f.checkpoint.ListRefs() }

// GC runs checkpoint/content-store garbage collection.
func (f *Frontend) GC(ctx context.Context, dryRun bool) (objectsRemoved int, bytesFreed int64, err error) {
	return f.checkpoint.GC(ctx, dryRun)
}

// ReadConfig returns the server's current configuration as a decoded resource.
func (f *Frontend) ReadConfig() config.Config {
	return f.cfg
}

// Error is the decoded MCP error shape every Frontend method's error return
// translates into at the transport boundary.
type Error struct {
	Code    string
	Message string
}

// TranslateError maps an internal typed error to the MCP error shape. nil in, nil out.
func TranslateError(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: string(errors.KindOf(err)), Message: err.Error()}
}

// Package supervisor implements the Session Supervisor (spec §4.5): the
// single authority over session state transitions. It resolves the child
// executable via the Binary Locator, registers the spawned process with the
// Process Registry, wires the JSONL Stream Engine to the child's stdout and
// stderr, serializes writes to the child's stdin, and enforces per-session
// and global concurrency and timeout limits.
//
// The tick-driven idle/zombie sweep and the slog-based logging style are
// grounded on the teacher's process supervisor loop; the state machine and
// per-session concurrency gate are new, built to the session lifecycle this
// runtime targets instead of the teacher's fixed three-component restart
// loop.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"corvid/internal/analytics"
	"corvid/internal/binarylocator"
	"corvid/internal/errors"
	"corvid/internal/logging"
	"corvid/internal/metrics"
	"corvid/internal/registry"
	"corvid/internal/streamengine"
)

// State is a Session's lifecycle state (spec §3/§4.5 state table).
type State string

const (
	StateCreated    State = "created"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateCompleting State = "completing"
	StateCancelling State = "cancelling"
	StateTimingOut  State = "timing_out"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Session is the in-memory session object SS owns until terminal.
type Session struct {
	ID                string
	ModelTag          string
	CreatedAt         time.Time
	Deadline          time.Time
	ParentCheckpointID string
	PromptFingerprint string

	mu             sync.Mutex
	state          State
	exitCode       int
	lastRecordAt   time.Time
	inputBytes     int64
	outputBytes    int64
	recordsEmitted int64
	recordsDropped int64
	cmdExited      bool // set by pump once cmd.Wait() has returned; guards reads of cmd.ProcessState from other goroutines

	cmd     *exec.Cmd
	stdinW  *bufio.Writer
	stdinC  io.Closer
	stdinMu sync.Mutex
	cancel  context.CancelFunc

	notify chan streamengine.Record
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Notifications is the bounded, per-session queue MF drains (spec §4.5:
// "Publishes records to MF via per-session bounded queues").
func (s *Session) Notifications() <-chan streamengine.Record {
	return s.notify
}

// Config configures the supervisor.
type Config struct {
	MaxConcurrentSessions int
	SessionDeadline       time.Duration
	IdleTimeout           time.Duration
	KillGrace             time.Duration
	ZombieTimeout         time.Duration
	QueueCapacity         int
	StreamEngine          streamengine.Config
	SweepInterval         time.Duration
	Env                   []string // sanitized base environment for children
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 16
	}
	if c.SessionDeadline <= 0 {
		c.SessionDeadline = 30 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.ZombieTimeout <= 0 {
		c.ZombieTimeout = 10 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	return c
}

// Supervisor is the Session Supervisor.
type Supervisor struct {
	cfg      Config
	locator  *binarylocator.Locator
	registry *registry.Registry
	events   analytics.Client
	log      logging.Logger
	metrics  *metrics.Registry
	sem      *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session

	newSessionID func() string
	argvHash     func([]string) string
}

// Deps bundles the Supervisor's collaborators.
type Deps struct {
	Locator      *binarylocator.Locator
	Registry     *registry.Registry
	Events       analytics.Client
	Log          logging.Logger
	Metrics      *metrics.Registry
	NewSessionID func() string
	ArgvHash     func([]string) string
}

// New constructs a Supervisor.
func New(cfg Config, deps Deps) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		cfg:          cfg,
		locator:      deps.Locator,
		registry:     deps.Registry,
		events:       analytics.OrNop(deps.Events),
		log:          logging.OrNop(deps.Log).With("supervisor"),
		metrics:      metrics.OrNop(deps.Metrics),
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions)),
		sessions:     make(map[string]*Session),
		newSessionID: deps.NewSessionID,
		argvHash:     deps.ArgvHash,
	}
}

// CreateSession allocates a Session in Created state and, if a concurrency
// slot is free, transitions it through Starting into Running by resolving
// the binary and spawning the child. When no slot is free it does not wait:
// the session is marked Failed and a Busy error is returned. args is the
// argument vector passed to the resolved executable.
func (sv *Supervisor) CreateSession(ctx context.Context, modelTag, parentCheckpointID, promptFingerprint string, args []string) (*Session, error) {
	id := sv.newSessionID()
	now := time.Now()
	sess := &Session{
		ID:                 id,
		ModelTag:           modelTag,
		CreatedAt:          now,
		Deadline:           now.Add(sv.cfg.SessionDeadline),
		ParentCheckpointID: parentCheckpointID,
		PromptFingerprint:  promptFingerprint,
		state:              StateCreated,
		lastRecordAt:       now,
		notify:             make(chan streamengine.Record, sv.cfg.QueueCapacity),
	}

	sv.mu.Lock()
	sv.sessions[id] = sess
	sv.mu.Unlock()

	sv.events.Publish(ctx, id, analytics.EventSessionCreated, map[string]any{"model": modelTag})
	sv.metrics.SessionsCreated.Inc()

	if !sv.sem.TryAcquire(1) {
		sess.setState(StateFailed)
		return sess, errors.New(errors.Busy, "supervisor_at_capacity", "max concurrent sessions reached")
	}

	if err := sv.start(ctx, sess, args); err != nil {
		sv.sem.Release(1)
		sess.setState(StateFailed)
		sv.events.Publish(ctx, id, analytics.EventSessionFailed, map[string]any{"error": err.Error()})
		sv.metrics.SessionsFailed.Inc()
		return sess, err
	}
	return sess, nil
}

func (sv *Supervisor) start(ctx context.Context, sess *Session, args []string) error {
	sess.setState(StateStarting)
	sv.events.Publish(ctx, sess.ID, analytics.EventSessionStarting, nil)

	rec, err := sv.locator.Resolve(ctx, false)
	if err != nil {
		return errors.Wrap(errors.NotFound, "supervisor_locate_binary", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.Command(rec.Path, args...)
	cmd.Env = sv.cfg.Env
	setProcessGroup(cmd)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return errors.Wrap(errors.Internal, "supervisor_stdin_pipe", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return errors.Wrap(errors.Internal, "supervisor_stdout_pipe", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return errors.Wrap(errors.Internal, "supervisor_stderr_pipe", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return errors.Wrap(errors.Internal, "supervisor_spawn", err)
	}

	sess.mu.Lock()
	sess.cmd = cmd
	sess.cancel = cancel
	sess.mu.Unlock()

	argvHash := ""
	if sv.argvHash != nil {
		argvHash = sv.argvHash(cmd.Args)
	}
	if _, err := sv.registry.Register(ctx, sess.ID, cmd.Process.Pid, rec.Path, argvHash); err != nil {
		_ = cmd.Process.Kill()
		cancel()
		return err
	}

	sess.setState(StateRunning)
	sv.events.Publish(ctx, sess.ID, analytics.EventSessionRunning, nil)

	engine := streamengine.New(sess.ID, stdoutPipe, stderrPipe, sv.cfg.StreamEngine)
	go sv.pump(runCtx, sess, cmd, engine)
	go engine.Run(runCtx, func() string {
		if cmd.ProcessState == nil {
			return "eof"
		}
		return fmt.Sprintf("child-exited-with-code:%d", cmd.ProcessState.ExitCode())
	})

	sess.mu.Lock()
	sess.stdinC = stdinPipe
	sess.stdinW = bufio.NewWriter(stdinPipe)
	sess.mu.Unlock()

	return nil
}

// pump waits for the child to exit, relays stream records to the session's
// notification queue, and drives the terminal state transition once the
// stream engine has finished.
func (sv *Supervisor) pump(ctx context.Context, sess *Session, cmd *exec.Cmd, engine *streamengine.Engine) {
	defer func() {
		sv.sem.Release(1)
		_ = sv.registry.Unregister(context.Background(), sess.ID)
	}()

	for rec := range engine.Records() {
		sess.mu.Lock()
		sess.lastRecordAt = time.Now()
		sess.recordsEmitted++
		sess.mu.Unlock()
		sv.metrics.RecordsEmitted.Inc()

		// Blocking send: the bounded queue's backpressure is intentional,
		// propagating slowness in MF's consumer back to the stream engine
		// and, transitively, the child's OS pipe.
		sess.notify <- rec
		sv.metrics.QueueDepth.WithLabelValues(sess.ID).Set(float64(len(sess.notify)))
	}
	sv.metrics.QueueDepth.DeleteLabelValues(sess.ID)

	waitErr := cmd.Wait()
	close(sess.notify)

	sess.mu.Lock()
	sess.cmdExited = true
	prior := sess.state
	sess.mu.Unlock()

	switch prior {
	case StateCancelling:
		sess.setState(StateCancelled)
		sv.events.Publish(ctx, sess.ID, analytics.EventSessionCancelled, nil)
		sv.metrics.SessionsCancelled.Inc()
	case StateTimingOut:
		sess.setState(StateTimedOut)
		sv.events.Publish(ctx, sess.ID, analytics.EventSessionTimedOut, nil)
		sv.metrics.SessionsTimedOut.Inc()
	default:
		if waitErr == nil {
			sess.setState(StateCompleted)
			sv.events.Publish(ctx, sess.ID, analytics.EventSessionCompleted, nil)
			sv.metrics.SessionsCompleted.Inc()
		} else {
			sess.setState(StateFailed)
			sv.events.Publish(ctx, sess.ID, analytics.EventSessionFailed, map[string]any{"error": waitErr.Error()})
			sv.metrics.SessionsFailed.Inc()
		}
	}
}

// SendMessage writes payload as a single JSON line to the child's stdin.
// Writes are serialized per session.
func (sv *Supervisor) SendMessage(ctx context.Context, sessionID string, payload any) error {
	sess, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if sess.State() != StateRunning {
		return errors.New(errors.SessionNotRunning, "supervisor_not_running", "session is not running")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.Invalid, "supervisor_marshal_message", err)
	}
	data = append(data, '\n')

	sess.stdinMu.Lock()
	defer sess.stdinMu.Unlock()

	sess.mu.Lock()
	w := sess.stdinW
	sess.mu.Unlock()
	if w == nil {
		return errors.New(errors.SessionNotRunning, "supervisor_no_stdin", "session has no open stdin")
	}

	done := make(chan error, 1)
	go func() {
		if _, err := w.Write(data); err != nil {
			done <- err
			return
		}
		done <- w.Flush()
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(errors.Io, "supervisor_stdin_write", err)
		}
		sess.mu.Lock()
		sess.inputBytes += int64(len(data))
		sess.mu.Unlock()
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.Timeout, "supervisor_stdin_write_timeout", ctx.Err())
	}
}

// CancelSession requests polite termination, escalating to SIGKILL after
// KillGrace (spec §4.5 cancellation policy).
func (sv *Supervisor) CancelSession(ctx context.Context, sessionID string) error {
	sess, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if sess.State().Terminal() {
		return nil
	}
	sess.setState(StateCancelling)
	return sv.terminate(sess)
}

// expireIdleOrDeadline is invoked by the sweep loop for sessions past their
// idle timeout or absolute deadline.
func (sv *Supervisor) expireIdleOrDeadline(sess *Session) error {
	if sess.State().Terminal() {
		return nil
	}
	sess.setState(StateTimingOut)
	return sv.terminate(sess)
}

func (sv *Supervisor) terminate(sess *Session) error {
	sess.mu.Lock()
	cmd := sess.cmd
	cancel := sess.cancel
	sess.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signalProcessGroup(cmd)

	go func() {
		timer := time.NewTimer(sv.cfg.KillGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			killProcessGroup(cmd)
			zombieTimer := time.NewTimer(sv.cfg.ZombieTimeout)
			defer zombieTimer.Stop()
			<-zombieTimer.C
			sess.mu.Lock()
			exited := sess.cmdExited
			sess.mu.Unlock()
			if !exited {
				sv.log.Warn("zombie suspected for session %s pid %d", sess.ID, cmd.Process.Pid)
				sv.events.Publish(context.Background(), sess.ID, analytics.EventSessionZombie, map[string]any{"pid": cmd.Process.Pid})
			}
		}
		if cancel != nil {
			cancel()
		}
	}()
	return nil
}

// Sweep scans all non-terminal sessions for idle timeout or deadline
// expiry. Intended to be called on a ticker by the owning cmd entrypoint.
func (sv *Supervisor) Sweep(ctx context.Context) {
	sv.mu.Lock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()

	now := time.Now()
	for _, sess := range sessions {
		if sess.State().Terminal() {
			continue
		}
		sess.mu.Lock()
		idleFor := now.Sub(sess.lastRecordAt)
		pastDeadline := now.After(sess.Deadline)
		sess.mu.Unlock()
		if idleFor > sv.cfg.IdleTimeout || pastDeadline {
			_ = sv.expireIdleOrDeadline(sess)
		}
	}
}

// Get returns the in-memory Session by id.
func (sv *Supervisor) get(sessionID string) (*Session, error) {
	sv.mu.Lock()
	sess, ok := sv.sessions[sessionID]
	sv.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.NotFound, "supervisor_unknown_session", "unknown session: "+sessionID)
	}
	return sess, nil
}

// Get exposes Session lookups to MF.
func (sv *Supervisor) Get(sessionID string) (*Session, error) { return sv.get(sessionID) }

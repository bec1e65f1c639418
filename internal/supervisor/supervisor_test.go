package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"corvid/internal/analytics"
	"corvid/internal/binarylocator"
	"corvid/internal/logging"
	"corvid/internal/registry"
	"corvid/internal/store"
	"corvid/internal/streamengine"
)

func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "reg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := registry.New(db, registry.Config{GlobalMaxSessions: cfg.MaxConcurrentSessions}, analytics.Nop(), logging.Nop(), nil)

	loc := binarylocator.New(binarylocator.Config{Override: "/bin/sh"}, reg,
		func(ctx context.Context, path string) (string, error) { return "1.0.0", nil },
		analytics.Nop(), logging.Nop())

	seq := 0
	return New(cfg, Deps{
		Locator:  loc,
		Registry: reg,
		Events:   analytics.Nop(),
		Log:      logging.Nop(),
		NewSessionID: func() string {
			seq++
			return "sess-" + string(rune('0'+seq))
		},
		ArgvHash: func(args []string) string { return "hash" },
	})
}

func drainNotifications(sess *Session, timeout time.Duration) []streamengine.Record {
	var out []streamengine.Record
	deadline := time.After(timeout)
	for {
		select {
		case rec, ok := <-sess.Notifications():
			if !ok {
				return out
			}
			out = append(out, rec)
		case <-deadline:
			return out
		}
	}
}

func TestCreateSessionRunsToCompletion(t *testing.T) {
	sv := newTestSupervisor(t, Config{MaxConcurrentSessions: 2})

	sess, err := sv.CreateSession(context.Background(), "model-a", "", "fp1",
		[]string{"-c", "printf '{\"x\":1}\\n'"})
	require.NoError(t, err)
	require.Equal(t, StateRunning, sess.State())

	records := drainNotifications(sess, 2*time.Second)
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	require.Equal(t, streamengine.SourceMeta, last.Source)

	require.Eventually(t, func() bool {
		return sess.State() == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateSessionFailsWhenAtCapacity(t *testing.T) {
	sv := newTestSupervisor(t, Config{MaxConcurrentSessions: 1})

	_, err := sv.CreateSession(context.Background(), "model-a", "", "fp1",
		[]string{"-c", "sleep 1"})
	require.NoError(t, err)

	_, err = sv.CreateSession(context.Background(), "model-a", "", "fp2",
		[]string{"-c", "sleep 1"})
	require.Error(t, err)
}

func TestCancelSessionTransitionsToCancelled(t *testing.T) {
	sv := newTestSupervisor(t, Config{MaxConcurrentSessions: 2, KillGrace: 100 * time.Millisecond, ZombieTimeout: 100 * time.Millisecond})

	sess, err := sv.CreateSession(context.Background(), "model-a", "", "fp1",
		[]string{"-c", "sleep 5"})
	require.NoError(t, err)

	require.NoError(t, sv.CancelSession(context.Background(), sess.ID))

	require.Eventually(t, func() bool {
		return sess.State() == StateCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessageFailsWhenNotRunning(t *testing.T) {
	sv := newTestSupervisor(t, Config{MaxConcurrentSessions: 1})
	sess, err := sv.CreateSession(context.Background(), "model-a", "", "fp1", []string{"-c", "true"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sess.State() == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	err = sv.SendMessage(context.Background(), sess.ID, map[string]string{"a": "b"})
	require.Error(t, err)
}

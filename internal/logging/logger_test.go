package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "info", Format: "text", Output: buf})

	logger.Info("hello %s", "world")

	require.Contains(t, buf.String(), "hello world")
}

func TestWithAddsComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "debug", Format: "text", Output: buf}).With("supervisor")

	logger.Warn("session %s timed out", "s-1")

	require.Contains(t, buf.String(), "component=supervisor")
	require.Contains(t, buf.String(), "session s-1 timed out")
}

func TestOrNopHandlesNilLogger(t *testing.T) {
	var l Logger
	require.True(t, IsNil(l))

	safe := OrNop(l)
	require.False(t, IsNil(safe))
	safe.Info("should not panic")
}

func TestNopDiscardsEverything(t *testing.T) {
	n := Nop()
	n.Debug("x")
	n.Info("x")
	n.Warn("x")
	n.Error("x")
	require.Equal(t, n, n.With("component"))
}

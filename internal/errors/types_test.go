package errors

import (
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(NotFound, "blob_missing", "blob not found")
	require.True(t, stderrors.Is(err, NotFoundErr))
	require.False(t, stderrors.Is(err, ConflictErr))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, Internal, KindOf(stderrors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
	require.Equal(t, Busy, KindOf(New(Busy, "session_cap", "too many sessions")))
}

func TestWithContextCopies(t *testing.T) {
	base := New(Invalid, "bad_arg", "bad argument")
	withCtx := base.WithContext("field", "prompt")
	require.Nil(t, base.Context)
	require.Equal(t, "prompt", withCtx.Context["field"])
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := Wrap(Io, "write_failed", cause)
	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, Io, KindOf(wrapped))
}

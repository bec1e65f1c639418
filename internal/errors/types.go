// Package errors defines the typed error taxonomy shared across every
// component of the runtime. Components never return bare errors for
// caller-visible failures; they wrap them in *Error so the MCP Frontend can
// translate them into typed protocol errors without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the MCP Frontend needs to present it.
type Kind string

const (
	NotFound          Kind = "not_found"
	Invalid           Kind = "invalid"
	Conflict          Kind = "conflict"
	Busy              Kind = "busy"
	Timeout           Kind = "timeout"
	Cancelled         Kind = "cancelled"
	Io                Kind = "io"
	Corrupt           Kind = "corrupt"
	SessionNotRunning Kind = "session_not_running"
	QuotaExceeded     Kind = "quota_exceeded"
	Internal          Kind = "internal"
)

// Error is the single error type returned by every component for
// caller-visible failures. It carries a short machine-readable code, a
// human message, and an optional structured context bag.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errors.NotFoundErr) work by comparing kinds when
// the target is itself a *Error with no wrapped cause and no context.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) && other.Err == nil && other.Context == nil {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an *Error of the given kind around a cause.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Err: cause, Message: cause.Error()}
}

// WithContext returns a copy of e with a context entry set.
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// KindOf extracts the Kind from err, defaulting to Internal for untyped
// errors so callers never have to special-case "unknown" errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// sentinels usable with errors.Is(err, errors.NotFoundErr) and friends.
var (
	NotFoundErr          = &Error{Kind: NotFound, Code: "not_found"}
	InvalidErr           = &Error{Kind: Invalid, Code: "invalid"}
	ConflictErr          = &Error{Kind: Conflict, Code: "conflict"}
	BusyErr              = &Error{Kind: Busy, Code: "busy"}
	TimeoutErr           = &Error{Kind: Timeout, Code: "timeout"}
	CancelledErr         = &Error{Kind: Cancelled, Code: "cancelled"}
	IoErr                = &Error{Kind: Io, Code: "io"}
	CorruptErr           = &Error{Kind: Corrupt, Code: "corrupt"}
	SessionNotRunningErr = &Error{Kind: SessionNotRunning, Code: "session_not_running"}
	QuotaExceededErr     = &Error{Kind: QuotaExceeded, Code: "quota_exceeded"}
	InternalErr          = &Error{Kind: Internal, Code: "internal"}
)

// Package ids generates the opaque, unique, monotonic identifiers the data
// model requires for sessions and pending checkpoint temp names.
package ids

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var counter uint64

// NewSessionID returns an opaque string id that is unique and sorts
// monotonically with creation order, satisfying the Session identity
// invariant in the data model (§3).
func NewSessionID() string {
	seq := atomic.AddUint64(&counter, 1)
	return fmt.Sprintf("sess_%d_%s", time.Now().UnixNano(), shortUUID(seq))
}

// NewPendingToken returns a random token suitable for a pending-manifest or
// temp-blob filename; it carries no ordering requirement.
func NewPendingToken() string {
	return uuid.NewString()
}

func shortUUID(seq uint64) string {
	id := uuid.New()
	return fmt.Sprintf("%x%d", id[:4], seq%1000)
}

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// argvHash fingerprints a session's argument vector for the Process
// Registry's durable record (spec §3's ArgvHash field), so a reconciled
// record can be sanity-checked against the argv the supervisor would have
// used to respawn, without retaining the raw argv (which may carry a
// prompt) in the registry's on-disk store.
func argvHash(args []string) string {
	sum := sha256.Sum256([]byte(strings.Join(args, "\x00")))
	return hex.EncodeToString(sum[:])
}

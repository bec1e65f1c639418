package mcpfrontend

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintPrompt hashes a session's input prompt for the data model's
// input-prompt fingerprint attribute (spec §3), without retaining the
// prompt text itself in the session record.
func fingerprintPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

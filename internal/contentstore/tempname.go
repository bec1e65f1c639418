package contentstore

import "github.com/google/uuid"

// randomSuffix disambiguates concurrent Put temp files for the same blob
// hash; the final rename target is identical regardless, so a collision
// here only means two writers raced, not a correctness issue.
func randomSuffix() string {
	return uuid.NewString()
}

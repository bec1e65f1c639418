package binarylocator

import (
	"strconv"
	"strings"
)

// versionAtLeast compares dotted numeric version strings (ignoring any
// leading non-digit prefix such as "v" or "claude "). It is deliberately
// lenient: a malformed segment compares as 0 rather than erroring, since a
// probe's stdout format is outside this package's control.
func versionAtLeast(version, min string) bool {
	vParts := numericParts(version)
	mParts := numericParts(min)
	for i := 0; i < len(mParts); i++ {
		var v int
		if i < len(vParts) {
			v = vParts[i]
		}
		if v > mParts[i] {
			return true
		}
		if v < mParts[i] {
			return false
		}
	}
	return true
}

func numericParts(s string) []int {
	// Keep only the first whitespace-separated token that starts with a
	// digit, e.g. "claude-code 1.2.3" -> "1.2.3".
	fields := strings.Fields(s)
	candidate := s
	for _, f := range fields {
		if len(f) > 0 && (f[0] >= '0' && f[0] <= '9') {
			candidate = f
			break
		}
	}
	segs := strings.Split(candidate, ".")
	out := make([]int, 0, len(segs))
	for _, seg := range segs {
		seg = strings.TrimFunc(seg, func(r rune) bool { return r < '0' || r > '9' })
		n, err := strconv.Atoi(seg)
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}

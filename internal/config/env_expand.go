package config

import (
	"os"
	"strings"
)

// expandEnvValue interpolates ${VAR} / $VAR references in a config string
// using lookup, supporting a ${VAR:-default} fallback for settings (like
// locator_override paths) that need a sane value when the variable is
// unset rather than silently collapsing to an empty string.
func expandEnvValue(lookup EnvLookup, value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	return os.Expand(value, func(token string) string {
		key, fallback, hasFallback := strings.Cut(token, ":-")
		if key == "" {
			return ""
		}
		if resolved, ok := lookup(key); ok {
			return resolved
		}
		if hasFallback {
			return fallback
		}
		return ""
	})
}

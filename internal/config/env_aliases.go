package config

// DefaultEnvAliases returns the canonical alias map used to resolve
// alternate environment variable spellings for the same setting, the same
// layered-alias approach the teacher's config package uses for its own
// environment variables.
func DefaultEnvAliases() map[string][]string {
	aliases := map[string][]string{
		"STATE_ROOT":            {"CORVID_STATE_ROOT", "STATE_ROOT"},
		"DISK_QUOTA_BYTES":      {"CORVID_DISK_QUOTA_BYTES"},
		"LOG_LEVEL":             {"CORVID_LOG_LEVEL", "LOG_LEVEL"},
		"DISABLE_AUTO_GC":       {"CORVID_DISABLE_AUTO_GC"},
		"BINARY_PATH":           {"CORVID_BINARY_PATH"},
		"MAX_CONCURRENT_SESSIONS": {"CORVID_MAX_CONCURRENT_SESSIONS"},
		"POSTHOG_API_KEY":       {"CORVID_POSTHOG_API_KEY"},
		"POSTHOG_HOST":          {"CORVID_POSTHOG_HOST"},
	}

	out := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		out[key] = append([]string(nil), list...)
	}
	return out
}

// DefaultEnvLookupWithAliases composes DefaultEnvLookup with DefaultEnvAliases.
func DefaultEnvLookupWithAliases() EnvLookup {
	return AliasEnvLookup(DefaultEnvLookup, DefaultEnvAliases())
}

package config

import "os"

// EnvLookup resolves an environment variable name to a value, the same
// indirection the teacher's config package uses so tests can substitute a
// fake environment instead of mutating process state.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup reads from the real process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// AliasEnvLookup wraps a base lookup, trying each alias for a canonical key
// before falling back to the canonical name itself.
func AliasEnvLookup(base EnvLookup, aliases map[string][]string) EnvLookup {
	return func(key string) (string, bool) {
		if list, ok := aliases[key]; ok {
			for _, alias := range list {
				if v, ok := base(alias); ok {
					return v, true
				}
			}
		}
		return base(key)
	}
}

package sandbox

import (
	"strings"
)

// DangerousEnvPrefixes lists environment variable prefixes that can subvert
// library loading in the guest and are stripped before exec.
//
// LD_PRELOAD and friends would let a guest-written .so ride into the next
// command's address space.
var DangerousEnvPrefixes = []string{
	"LD_",
}

// DangerousEnvVars lists specific environment variables that are stripped.
var DangerousEnvVars = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"LD_AUDIT",
	"LD_DEBUG",
	"LD_DEBUG_OUTPUT",
	"LD_DYNAMIC_WEAK",
	"LD_ORIGIN_PATH",
	"LD_PROFILE",
	"LD_PROFILE_OUTPUT",
	"LD_SHOW_AUXV",
	"LD_TRACE_LOADED_OBJECTS",
}

// FilterDangerousEnv filters out dangerous environment variables.
func FilterDangerousEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !isDangerousEnvVar(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// isDangerousEnvVar checks if an environment entry (KEY=VALUE) is dangerous.
func isDangerousEnvVar(entry string) bool {
	key := entry
	if idx := strings.Index(entry, "="); idx != -1 {
		key = entry[:idx]
	}

	for _, prefix := range DangerousEnvPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	for _, dangerous := range DangerousEnvVars {
		if key == dangerous {
			return true
		}
	}
	return false
}

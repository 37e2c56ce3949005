package memtrace

import (
	"os"
	"strconv"
)

// EnvVar enables tracing at startup when set: a positive integer is
// used as the traceback limit, any other non-empty truthy value enables
// tracing with the default limit of one frame.
const EnvVar = "MEMTRACE"

// EnvDisableVar suppresses environment-driven startup configuration
// when set, for hosts that must ignore ambient configuration.
const EnvDisableVar = "MEMTRACE_DISABLE_ENV"

func init() {
	startFromEnv(os.Getenv)
}

// StartFromEnv applies the environment knobs explicitly, for hosts that
// construct their environment after process start. It reports whether
// tracing was enabled.
func StartFromEnv() bool {
	return startFromEnv(os.Getenv)
}

func startFromEnv(getenv func(string) string) bool {
	if getenv(EnvDisableVar) != "" {
		return false
	}
	limit, ok := parseEnvLimit(getenv(EnvVar))
	if !ok {
		return false
	}
	_ = std.SetTracebackLimit(limit)
	std.Enable()
	return true
}

// parseEnvLimit interprets the enable variable: empty or falsy means
// disabled, a positive integer is the limit, any other truthy value
// selects the default limit.
func parseEnvLimit(value string) (limit int, ok bool) {
	if value == "" || value == "0" {
		return 0, false
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return 0, false
		}
		return n, true
	}
	return 1, true
}

package util

import (
	"log/slog"
	"os"
	"strings"
)

// EnvOr returns the trimmed value of key, or def when it is unset or blank.
func EnvOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// ParseBoolEnv reads key as a switch. On, true, yes and 1 enable it; off,
// false, no and 0 disable it. Anything else logs a warning and yields def.
func ParseBoolEnv(key string, def bool) bool {
	raw := EnvOr(key, "")
	if raw == "" {
		return def
	}
	if v, ok := parseSwitch(raw); ok {
		return v
	}
	slog.Warn("ParseBoolEnv: unrecognised value, using default", "key", key, "value", raw, "default", def)
	return def
}

func parseSwitch(raw string) (value, ok bool) {
	switch strings.ToLower(raw) {
	case "on", "true", "yes", "1":
		return true, true
	case "off", "false", "no", "0":
		return false, true
	}
	return false, false
}

package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits one full step below [slog.LevelDebug] and is
// reserved for raw model and capability payloads. Handlers built with
// [ReplaceLogLevelNames] print it as TRACE.
const LevelTrace = slog.Level(-8)

// ParseLogLevel maps a config string to an [slog.Level]. Matching is
// case-insensitive, surrounding whitespace is ignored, and the empty
// string means Info so an absent log_level key needs no special
// handling by callers. "warning" is accepted as an alias for "warn".
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames is passed as [slog.HandlerOptions.ReplaceAttr]
// so records at [LevelTrace] print as "TRACE" instead of the
// "DEBUG-4" slog synthesizes for levels it does not know.
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

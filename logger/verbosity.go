package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
const (
	VerbosityDefault = 0 // No flags: configured level
	VerbosityInfo    = 1 // -v: + job lifecycle
	VerbosityDebug   = 2 // -vv: + state transitions, SQL-level queue events
)

// VerbosityToLevel maps verbosity flags (-v, -vv) to zap log levels.
// With no flags the configured level wins.
//
//	0 (none) -> configured
//	1 (-v)   -> InfoLevel
//	2+ (-vv) -> DebugLevel
func VerbosityToLevel(verbosity int, configured zapcore.Level) zapcore.Level {
	switch {
	case verbosity <= VerbosityDefault:
		return configured
	case verbosity == VerbosityInfo:
		if configured < zapcore.InfoLevel {
			return configured
		}
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

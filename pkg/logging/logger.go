// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. JSON lines by
// default; Pretty switches to the console writer for local runs.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithSession scopes a logger to one acquisition session. Every log line a
// session emits carries its UUID so concurrent or back-to-back runs can be
// told apart.
func WithSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().Str("session", sessionID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-attempt fetch outcomes and classifications
//   - Rate window deferrals (delay, calls in window)
//   - Batch completion timings
//
// Info: Normal operation events
//   - Session start and end-of-session summary
//   - Circuit state changes
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Provider throttling (window widened)
//   - Circuit trips
//   - Deadline expiry mid-batch
//
// Error: Error conditions requiring attention
//   - Providers disabled for the session (auth failures)
//   - Configuration errors
//
// Context Fields:
//   - session: Session UUID
//   - provider: Provider name
//   - symbol: Security symbol being acquired
//   - kind: Error classification (rate_limited, auth_failure, ...)
//   - delay: Rate limiter deferral duration
//   - widen: Adaptive window multiplier

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
	// LevelTrace logs every repository resolver step and above.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component is the directive name that addresses this program's own logs.
const Component = "rwx_im"

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
		Level:  LevelTrace,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var output io.Writer = out
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()

	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
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

// LevelFromDirective picks the level for this program out of a directive
// list such as "debug" or "http=debug,rwx_im=trace". A "rwx_im=" entry wins
// over a bare level; other components are ignored. It returns fallback when
// the directive names no level for us.
func LevelFromDirective(directive string, fallback LogLevel) LogLevel {
	var bare LogLevel
	for _, part := range strings.Split(directive, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			bare = LogLevel(strings.ToLower(name))
			continue
		}
		if strings.TrimSpace(name) == Component {
			return LogLevel(strings.ToLower(strings.TrimSpace(value)))
		}
	}
	if bare != "" {
		return bare
	}
	return fallback
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Trace: Step-by-step state
//   - Repository open attempts and their outcome
//
// Debug: Detailed information for debugging
//   - Resolver transitions
//   - Lookup cache operations (hit/miss, key)
//   - Stored content (digest, size)
//
// Info: Normal operation events
//   - Repository attached or created
//   - Server startup/shutdown
//   - Served requests
//
// Warn: Warning conditions that don't prevent operation
//   - Lookup cache errors (fallback to the repository)
//   - Client retry attempts
//   - Damaged chunks found by verify
//
// Error: Error conditions requiring attention
//   - Repository open or init failures (fatal at startup)
//   - Failed requests (after retries)
//
// Context Fields:
//   - component: emitting package
//   - location: repository location
//   - state: resolver state
//   - owner, tail: resource address
//   - digest: content digest
//   - status: HTTP status code
//   - duration: request duration
//   - request_id: per-request id

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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
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

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual page requests (entity, offset, query)
//   - Batch flushes (key, size)
//   - Internal state transitions
//
// Info: Normal operation events
//   - Run start/completion per entity
//   - Wave progress for long extractions
//   - Watermark reads and saves
//   - Staging promotion for time-series partitions
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and backoff
//   - Missing watermark (falls back to full load)
//   - Manifest not found (created fresh)
//
// Error: Error conditions requiring attention
//   - Page fetch failures after retries
//   - Loader/object store failures
//   - Replace-protocol failures (partition needs rebuild)
//
// Context Fields:
//   - entity: entity name (games, platforms, ...)
//   - offset: page offset of the request
//   - wave: wave index within a run
//   - partition: date partition (dt=YYYY-MM-DD)
//   - attempt: retry attempt number
//   - error_class: error classification (client, server, rate_limit, network, decode)
//   - batch: batch index within a run
//   - key: object store destination key

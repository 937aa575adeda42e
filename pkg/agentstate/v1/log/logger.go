// Package log defines the public logging interface used across agentstate packages.
package log

import (
	"context"
	// Use standard library's structured logging level type.
	"log/slog"
)

// Logger defines the public interface for logging operations within agentstate.
// The state store, recovery manager and lock coordinator all log through this
// interface, so embedding applications can route store diagnostics into their
// own logging pipeline.
type Logger interface {
	// Debugf logs a formatted message at the DEBUG level.
	// Arguments are handled in the manner of fmt.Sprintf.
	Debugf(format string, args ...interface{})
	// Infof logs a formatted message at the INFO level.
	// Arguments are handled in the manner of fmt.Sprintf.
	Infof(format string, args ...interface{})
	// Warnf logs a formatted message at the WARN level.
	// Degraded-but-non-fatal store paths (backup failure, corrupted state reset,
	// forced lock takeover) are reported at this level.
	Warnf(format string, args ...interface{})
	// Errorf logs a formatted message at the ERROR level.
	// Implementations should check if the last arg is an error and log it structurally.
	Errorf(format string, args ...interface{})

	// Log logs a message at the specified slog.Level with additional key-value attributes.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx logs a message at the specified slog.Level, including trace IDs
	// from the context if the implementation supports it.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a new Logger instance with the specified attributes added
	// to all subsequent log entries.
	With(args ...interface{}) Logger
	// IsEnabled checks if the logger is configured to output logs at the given level.
	IsEnabled(level slog.Level) bool
}

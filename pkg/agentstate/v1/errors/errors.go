package errors

import (
	"errors"
	"fmt"
	"time"
)

// --- agentstate Error Types ---

// ConfigError represents an error encountered during the loading, parsing,
// or validation of the agentstate configuration or store options.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that some input (a state document, a config file)
// failed structural validation checks.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// InvalidStateError is returned by Save when the document fails schema
// validation. Nothing is written to disk when this error is returned.
type InvalidStateError struct {
	Path  string
	Cause error
}

func NewInvalidStateError(path string, cause error) *InvalidStateError {
	return &InvalidStateError{Path: path, Cause: cause}
}
func (e *InvalidStateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid state data structure for '%s': %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("invalid state data structure for '%s'", e.Path)
}
func (e *InvalidStateError) Unwrap() error { return e.Cause }

// IsInvalidState checks if an error is an InvalidStateError using errors.As.
func IsInvalidState(err error) bool {
	var invalidErr *InvalidStateError
	return errors.As(err, &invalidErr)
}

// Corruption stages describe where a load-time failure was detected.
const (
	StageRead     = "read"
	StageEncoding = "encoding"
	StageDecode   = "decode"
	StageSchema   = "schema"
)

// CorruptionError describes a primary or backup file that could not be
// trusted on load. It is recorded in load reports and never returned to
// callers of Load.
type CorruptionError struct {
	Path  string
	Stage string // One of the Stage* constants.
	Cause error
}

func NewCorruptionError(path, stage string, cause error) *CorruptionError {
	return &CorruptionError{Path: path, Stage: stage, Cause: cause}
}
func (e *CorruptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("corrupted state '%s' (%s): %v", e.Path, e.Stage, e.Cause)
	}
	return fmt.Sprintf("corrupted state '%s' (%s)", e.Path, e.Stage)
}
func (e *CorruptionError) Unwrap() error { return e.Cause }

// BackupError reports a failed recovery housekeeping operation ("backup",
// "prune"). Save continues when one occurs.
type BackupError struct {
	Op    string
	Path  string
	Cause error
}

func NewBackupError(op, path string, cause error) *BackupError {
	return &BackupError{Op: op, Path: path, Cause: cause}
}
func (e *BackupError) Error() string {
	return fmt.Sprintf("recovery %s failed for '%s': %v", e.Op, e.Path, e.Cause)
}
func (e *BackupError) Unwrap() error { return e.Cause }

// LockTimeoutError records that a lock marker outlived the acquisition
// timeout and was forcibly displaced. It is carried in the acquire outcome
// rather than returned.
type LockTimeoutError struct {
	LockPath string
	Waited   time.Duration
	Timeout  time.Duration
	Attempts int
}

func NewLockTimeoutError(lockPath string, waited, timeout time.Duration, attempts int) *LockTimeoutError {
	return &LockTimeoutError{LockPath: lockPath, Waited: waited, Timeout: timeout, Attempts: attempts}
}
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout exceeded (path=%s waited=%s attempts=%d timeout=%s)",
		e.LockPath, e.Waited.Truncate(time.Millisecond), e.Attempts, e.Timeout)
}

package state

import (
	"context"
	"time"
)

// Source identifies where a loaded document came from.
type Source string

const (
	// SourcePrimary means the primary file parsed and validated.
	SourcePrimary Source = "primary"
	// SourceRecovery means the primary was corrupt and a backup was used.
	SourceRecovery Source = "recovery"
	// SourceDefault means the caller's default document was returned, either
	// because the file does not exist or because nothing could be recovered.
	SourceDefault Source = "default"
)

// LoadReport describes how a Load call was resolved. Load never fails; the
// report is how callers (and tests) observe degraded paths.
type LoadReport struct {
	Path   string
	Source Source
	// Missing is true when the primary file did not exist.
	Missing bool
	// Corruption is the CorruptionError that forced the fallback, if any.
	Corruption error
	// RecoveredFrom is the backup path used when Source is SourceRecovery.
	RecoveredFrom string
}

// Degraded reports whether the load had to fall back after corruption.
func (r *LoadReport) Degraded() bool {
	return r != nil && r.Corruption != nil
}

// BackupOutcome is the result of snapshotting the current primary file.
// A failed backup never fails the surrounding save.
type BackupOutcome struct {
	// Path is the snapshot written, empty when Skipped or failed.
	Path string
	// Skipped is true when there was no previous primary to snapshot.
	Skipped bool
	// Err is a BackupError describing a failed snapshot.
	Err error
}

// OK reports whether the backup step did not fail.
func (o BackupOutcome) OK() bool { return o.Err == nil }

// PruneOutcome is the result of trimming the recovery directory for a key.
type PruneOutcome struct {
	Kept     int
	Deleted  []string
	Failures []error
}

// OK reports whether every deletion succeeded.
func (o PruneOutcome) OK() bool { return len(o.Failures) == 0 }

// SaveReport describes the housekeeping performed by a successful Save.
type SaveReport struct {
	Path   string
	Bytes  int
	Backup BackupOutcome
	Prune  PruneOutcome
}

// LockOwner is the record written into a lock marker file.
type LockOwner struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	OwnerID    string    `json:"owner_id"`
	Hostname   string    `json:"hostname,omitempty"`
}

// AcquireOutcome describes how a lock was obtained.
type AcquireOutcome struct {
	LockPath string
	Waited   time.Duration
	Attempts int
	// Forced is true when the previous marker was displaced after the timeout.
	Forced bool
	// Previous is the displaced owner, when its marker was readable.
	Previous *LockOwner
	// Timeout holds the LockTimeoutError when Forced is true.
	Timeout error
}

// ReleaseOutcome describes a lock release. Release is idempotent.
type ReleaseOutcome struct {
	LockPath string
	// Removed is true when a marker file was deleted.
	Removed bool
	// Displaced is true when the marker named a different owner at release time.
	Displaced bool
	Current   *LockOwner
	Err       error
}

// Reader defines read access to persisted state documents.
type Reader interface {
	// Load returns the document at path, a recovered backup, or a copy of
	// def. It never returns an error.
	Load(ctx context.Context, path string, def Document) (Document, *LoadReport)
}

// Store defines the full state store interface: crash-safe writes,
// corruption-tolerant reads and cross-process locking.
type Store interface {
	Reader

	// Save validates and atomically replaces the document at path. The only
	// returned error on invalid input is an InvalidStateError; filesystem
	// failures of the primary write are also returned.
	Save(ctx context.Context, path string, doc Document) (*SaveReport, error)

	// WithLock runs fn while holding the lock for key ("" selects the
	// default lock).
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error

	// Initialize creates the state and recovery directories and seeds the
	// workflow document. Safe to call on every start.
	Initialize(ctx context.Context) error
}

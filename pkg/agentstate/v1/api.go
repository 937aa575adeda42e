// Package v1 is the public entry point of the agentstate state store: the
// StoreV1 interface and the functional options used to configure it.
package v1

import (
	"context"
	"time"

	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/tracing"
)

// DefaultStateVersion is the state_version seeded into a new workflow document.
const DefaultStateVersion = "1.0.0"

// Clock supplies the current time to the store. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

// CachePolicy controls sliding expiration of cache entries.
type CachePolicy struct {
	// ExtensionWindow is how close to expiry an access must be to renew.
	ExtensionWindow time.Duration
	// ExtensionDuration is the lifetime granted by a renewal.
	ExtensionDuration time.Duration
	// MaxExtensions applies to entries that do not carry their own ceiling.
	MaxExtensions int
}

// StoreV1 is the durable local state store.
type StoreV1 interface {
	state.Store

	// Update loads the document at path (or def), applies mutate, and saves
	// the result, all while holding the default lock.
	Update(ctx context.Context, path string, def state.Document, mutate func(doc state.Document) error) (*state.SaveReport, error)
	// TouchCache loads the cache entry at path under the default lock,
	// applies sliding expiration, persists a renewal, and reports whether
	// the entry is still valid. A missing entry yields (nil, false, nil).
	TouchCache(ctx context.Context, path string) (state.Document, bool, error)

	// StateDir is the directory holding primary files and lock markers.
	StateDir() string
	// Path resolves a logical document name to its primary file.
	Path(name string) string
	// WorkflowPath is Path("workflow").
	WorkflowPath() string

	TracerProvider() tracing.TracerProvider

	SetLogger(logger log.Logger) error
	SetEventBus(bus events.Bus) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetClock(clock Clock) error
	SetLockTimeout(timeout time.Duration) error
	SetLockPollInterval(interval time.Duration) error
	SetBackupRetention(retain int) error
	SetCachePolicy(policy CachePolicy) error
	SetStateVersion(version string) error
}

// StoreOption configures a store at creation.
type StoreOption func(StoreV1) error

// WithLogger routes store diagnostics to logger.
func WithLogger(logger log.Logger) StoreOption {
	return func(s StoreV1) error {
		if logger == nil {
			return aserrors.NewConfigError("logger cannot be nil", nil)
		}
		return s.SetLogger(logger)
	}
}

// WithEventBus publishes store events to bus.
func WithEventBus(bus events.Bus) StoreOption {
	return func(s StoreV1) error {
		if bus == nil {
			return aserrors.NewConfigError("event bus cannot be nil", nil)
		}
		return s.SetEventBus(bus)
	}
}

// WithTracerProvider wraps Load, Save and lock acquisition in spans from provider.
func WithTracerProvider(provider tracing.TracerProvider) StoreOption {
	return func(s StoreV1) error {
		if provider == nil {
			return aserrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return s.SetTracerProvider(provider)
	}
}

// WithClock sets the time source for snapshots, lock markers and cache expiry.
func WithClock(clock Clock) StoreOption {
	return func(s StoreV1) error {
		if clock == nil {
			return aserrors.NewConfigError("clock cannot be nil", nil)
		}
		return s.SetClock(clock)
	}
}

// WithLockTimeout sets how long Acquire waits before forcing a stale marker.
func WithLockTimeout(timeout time.Duration) StoreOption {
	return func(s StoreV1) error {
		if timeout <= 0 {
			return aserrors.NewConfigError("lock timeout must be positive", nil)
		}
		return s.SetLockTimeout(timeout)
	}
}

// WithLockPollInterval sets how often a waiting Acquire re-checks the marker.
func WithLockPollInterval(interval time.Duration) StoreOption {
	return func(s StoreV1) error {
		if interval <= 0 {
			return aserrors.NewConfigError("lock poll interval must be positive", nil)
		}
		return s.SetLockPollInterval(interval)
	}
}

// WithBackupRetention sets how many recovery snapshots are kept per document.
func WithBackupRetention(retain int) StoreOption {
	return func(s StoreV1) error {
		if retain < 1 {
			return aserrors.NewConfigError("backup retention must be at least 1", nil)
		}
		return s.SetBackupRetention(retain)
	}
}

// WithCachePolicy sets the sliding expiration rule. Zero fields keep their defaults.
func WithCachePolicy(policy CachePolicy) StoreOption {
	return func(s StoreV1) error {
		if policy.ExtensionWindow < 0 || policy.ExtensionDuration < 0 || policy.MaxExtensions < 0 {
			return aserrors.NewConfigError("cache policy values cannot be negative", nil)
		}
		return s.SetCachePolicy(policy)
	}
}

// WithStateVersion sets the state_version seeded by Initialize and used
// for the compatibility check on existing workflow documents.
func WithStateVersion(version string) StoreOption {
	return func(s StoreV1) error {
		if version == "" {
			return aserrors.NewConfigError("state version cannot be empty", nil)
		}
		return s.SetStateVersion(version)
	}
}

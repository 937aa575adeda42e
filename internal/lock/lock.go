// Package lock coordinates exclusive access to state files between
// cooperating processes on one machine using marker files.
//
// A marker is created with O_CREATE|O_EXCL, so at most one contender wins
// it. Waiters poll until the marker disappears. A marker that outlives the
// acquisition timeout is treated as stale and overwritten, which favours
// liveness over strict mutual exclusion: a holder that is merely slow can
// lose its lock. There is no fencing token.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agentos-labs/agentstate/internal/clock"
	internalevents "github.com/agentos-labs/agentstate/internal/events"
	"github.com/agentos-labs/agentstate/internal/logger"
	"github.com/agentos-labs/agentstate/internal/retry"
	"github.com/agentos-labs/agentstate/internal/tracing"
	"github.com/agentos-labs/agentstate/internal/util"
	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	aslog "github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	astracing "github.com/agentos-labs/agentstate/pkg/agentstate/v1/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultMarker is the marker file used for the empty resource key.
	DefaultMarker = ".lock"
	markerSuffix  = ".lock"
)

// Handle represents ownership of one marker. Release it exactly once; later
// releases are no-ops.
type Handle struct {
	Key   string
	Path  string
	Owner state.LockOwner

	released atomic.Bool
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool { return h.released.Load() }

// Coordinator acquires and releases markers in a state directory.
type Coordinator struct {
	dir          string
	timeout      time.Duration
	pollInterval time.Duration

	clock  clock.Clock
	log    aslog.Logger
	bus    events.Bus
	tracer trace.Tracer
	retry  *retry.Helper

	pid      int
	hostname string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the default acquisition timeout used when Acquire is
// called with a non-positive timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets how often a held marker is re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithClock sets the time source for marker timestamps and waits.
func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clock.Default(cl) }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(log aslog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithEventBus sets the bus that receives lock events.
func WithEventBus(bus events.Bus) Option {
	return func(c *Coordinator) { c.bus = internalevents.OrNoOp(bus) }
}

// WithTracerProvider sets the provider used for acquisition spans.
func WithTracerProvider(tp astracing.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tracing.Tracer(tp) }
}

// New creates a Coordinator whose markers live in stateDir.
func New(stateDir string, opts ...Option) *Coordinator {
	c := &Coordinator{
		dir:          stateDir,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		clock:        clock.RealClock{},
		log:          logger.NewDiscardLogger(),
		bus:          internalevents.NewNoOpEventBus(),
		tracer:       tracing.Tracer(nil),
		pid:          os.Getpid(),
	}
	c.hostname, _ = os.Hostname()
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "lock")
	c.retry = retry.NewHelper(c.log)
	return c
}

// Timeout returns the default acquisition timeout.
func (c *Coordinator) Timeout() time.Duration { return c.timeout }

// Path returns the marker path for key. The empty key selects the default
// marker.
func (c *Coordinator) Path(key string) string {
	if key == "" {
		return filepath.Join(c.dir, DefaultMarker)
	}
	return filepath.Join(c.dir, key+markerSuffix)
}

func validateKey(key string) error {
	if key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return aserrors.NewValidationError(fmt.Sprintf("invalid lock key %q", key), nil)
	}
	return nil
}

// Acquire waits until the marker for key can be created, polling every
// poll interval. If the marker still exists after timeout (the default
// timeout when non-positive) it is forcibly overwritten and the outcome
// records the takeover. Errors are returned only for an invalid key, a
// cancelled ctx, or a filesystem failure other than contention.
func (c *Coordinator) Acquire(ctx context.Context, key string, timeout time.Duration) (*Handle, state.AcquireOutcome, error) {
	path := c.Path(key)
	out := state.AcquireOutcome{LockPath: path}
	if err := validateKey(key); err != nil {
		return nil, out, err
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, span := tracing.StartSpan(ctx, c.tracer, "lock.Acquire",
		attribute.String("lock.path", path),
		attribute.Int64("lock.timeout_ms", timeout.Milliseconds()))
	defer span.End()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		err = fmt.Errorf("creating lock directory %s: %w", c.dir, err)
		tracing.RecordError(span, err)
		return nil, out, err
	}

	owner := state.LockOwner{PID: c.pid, OwnerID: uuid.NewString(), Hostname: c.hostname}
	res, err := c.retry.Poll(ctx, retry.PollConfig{Interval: c.pollInterval, Timeout: timeout},
		func(context.Context) (bool, error) {
			owner.AcquiredAt = c.clock.Now().UTC()
			err := createExclusive(path, owner)
			if err == nil {
				return true, nil
			}
			if errors.Is(err, fs.ErrExist) {
				return false, nil
			}
			return false, err
		})
	out.Waited = res.Waited
	out.Attempts = res.Attempts

	switch {
	case err == nil:
	case errors.Is(err, retry.ErrDeadline):
		if err := c.force(path, &owner, &out, timeout); err != nil {
			tracing.RecordError(span, err)
			return nil, out, err
		}
	default:
		err = fmt.Errorf("acquiring lock %s: %w", path, err)
		tracing.RecordError(span, err)
		return nil, out, err
	}

	span.SetAttributes(attribute.Bool("lock.forced", out.Forced), attribute.Int("lock.attempts", out.Attempts))
	if out.Waited > 0 {
		c.log.Debugf("Acquired lock %s after %v (%d attempts)", path, out.Waited.Truncate(time.Millisecond), out.Attempts)
	}
	c.bus.Emit(events.Event{
		Type:      events.LockAcquired,
		Timestamp: c.clock.Now(),
		Path:      path,
		Key:       key,
		Payload: map[string]interface{}{
			internalevents.PayloadForced:   out.Forced,
			internalevents.PayloadWaitedMS: out.Waited.Milliseconds(),
		},
	})
	return &Handle{Key: key, Path: path, Owner: owner}, out, nil
}

// force displaces a stale marker with owner's record.
func (c *Coordinator) force(path string, owner *state.LockOwner, out *state.AcquireOutcome, timeout time.Duration) error {
	prev, _ := readOwner(path)
	timeoutErr := aserrors.NewLockTimeoutError(path, out.Waited, timeout, out.Attempts)
	if prev != nil {
		c.log.Warnf("Forcing lock takeover from pid %d (owner %s): %v", prev.PID, prev.OwnerID, timeoutErr)
	} else {
		c.log.Warnf("Forcing lock takeover: %v", timeoutErr)
	}

	owner.AcquiredAt = c.clock.Now().UTC()
	data, err := json.Marshal(owner)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("forcing lock %s: %w", path, err)
	}

	out.Forced = true
	out.Previous = prev
	out.Timeout = timeoutErr
	c.bus.Emit(events.Event{
		Type:      events.LockForced,
		Timestamp: c.clock.Now(),
		Path:      path,
		Error:     timeoutErr.Error(),
	})
	return nil
}

// Release removes the handle's marker. A missing marker is not an error.
// When the marker now belongs to someone else (this handle was displaced by
// a forced takeover) it is still removed and the outcome reports Displaced.
func (c *Coordinator) Release(h *Handle) state.ReleaseOutcome {
	if h == nil {
		return state.ReleaseOutcome{}
	}
	if !h.released.CompareAndSwap(false, true) {
		return state.ReleaseOutcome{LockPath: h.Path}
	}
	return c.remove(h.Key, h.Path, h.Owner.OwnerID)
}

// ReleaseKey removes the marker for key regardless of who owns it.
func (c *Coordinator) ReleaseKey(key string) state.ReleaseOutcome {
	if err := validateKey(key); err != nil {
		return state.ReleaseOutcome{LockPath: c.Path(key), Err: err}
	}
	return c.remove(key, c.Path(key), "")
}

func (c *Coordinator) remove(key, path, ownerID string) state.ReleaseOutcome {
	out := state.ReleaseOutcome{LockPath: path}
	current, err := readOwner(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out
	}
	out.Current = current
	if ownerID != "" && (current == nil || current.OwnerID != ownerID) {
		out.Displaced = true
		c.log.Warnf("Lock %s no longer names this owner (%s); removing it anyway", path, ownerID)
	}

	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			out.Err = fmt.Errorf("removing lock %s: %w", path, err)
			c.log.Warnf("Failed to release lock: %v", out.Err)
		}
		return out
	}
	out.Removed = true
	c.bus.Emit(events.Event{
		Type:      events.LockReleased,
		Timestamp: c.clock.Now(),
		Path:      path,
		Key:       key,
		Payload:   map[string]interface{}{internalevents.PayloadDisplaced: out.Displaced},
	})
	return out
}

// Status reports whether a marker exists for key and, when readable, its owner.
func (c *Coordinator) Status(key string) (bool, *state.LockOwner, error) {
	if err := validateKey(key); err != nil {
		return false, nil, err
	}
	owner, err := readOwner(c.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil, nil
	}
	return true, owner, err
}

func createExclusive(path string, owner state.LockOwner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		_ = os.Remove(path)
		return werr
	}
	if cerr != nil {
		_ = os.Remove(path)
		return cerr
	}
	return nil
}

// readOwner parses a marker. A marker that exists but cannot be parsed
// yields a nil owner and a decode error.
func readOwner(path string) (*state.LockOwner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var owner state.LockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("decoding lock marker %s: %w", path, err)
	}
	return &owner, nil
}

// Package state implements the durable local state store on top of the
// schema, recovery, lock and ttl packages.
package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentos-labs/agentstate/internal/clock"
	"github.com/agentos-labs/agentstate/internal/config"
	internalevents "github.com/agentos-labs/agentstate/internal/events"
	"github.com/agentos-labs/agentstate/internal/lock"
	"github.com/agentos-labs/agentstate/internal/logger"
	"github.com/agentos-labs/agentstate/internal/recovery"
	"github.com/agentos-labs/agentstate/internal/schema"
	"github.com/agentos-labs/agentstate/internal/tracing"
	"github.com/agentos-labs/agentstate/internal/ttl"
	"github.com/agentos-labs/agentstate/internal/util"
	asv1 "github.com/agentos-labs/agentstate/pkg/agentstate/v1"
	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	aslog "github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	astracing "github.com/agentos-labs/agentstate/pkg/agentstate/v1/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// StateDirName is the directory under the base directory holding state.
	StateDirName = "state"
	// WorkflowName is the logical name of the workflow document.
	WorkflowName = "workflow"

	fileMode = 0o644
)

// FileStateStore persists documents as JSON files under <base>/state.
// Saves are atomic (temp file, fsync, rename), every save snapshots the
// previous content into recovery/, and loads fall back to the newest valid
// snapshot when the primary is corrupt. Concurrent saves are not serialized
// internally; callers coordinate read-modify-write cycles with WithLock.
type FileStateStore struct {
	baseDir  string
	stateDir string

	mu             sync.RWMutex
	log            aslog.Logger
	bus            events.Bus
	tracerProvider astracing.TracerProvider
	tracer         trace.Tracer
	clock          clock.Clock
	stateVersion   string

	lockTimeout time.Duration
	lockPoll    time.Duration
	retain      int
	cachePolicy asv1.CachePolicy

	recovery *recovery.Manager
	locks    *lock.Coordinator
	ttl      *ttl.Manager
}

// NewFileStateStore creates a store rooted at baseDir. Nothing is touched on
// disk until Initialize or Save is called.
func NewFileStateStore(baseDir string, opts ...asv1.StoreOption) (*FileStateStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, aserrors.NewConfigError("base directory cannot be empty", nil)
	}
	s := &FileStateStore{
		baseDir:        baseDir,
		stateDir:       filepath.Join(baseDir, StateDirName),
		log:            logger.NewDiscardLogger(),
		bus:            internalevents.NewNoOpEventBus(),
		tracerProvider: tracing.NewNoOpProvider(),
		clock:          clock.RealClock{},
		stateVersion:   asv1.DefaultStateVersion,
		lockTimeout:    lock.DefaultTimeout,
		lockPoll:       lock.DefaultPollInterval,
		retain:         recovery.DefaultRetain,
		cachePolicy: asv1.CachePolicy{
			ExtensionWindow:   ttl.DefaultExtensionWindow,
			ExtensionDuration: ttl.DefaultExtensionDuration,
			MaxExtensions:     ttl.DefaultMaxExtensions,
		},
	}
	s.wire()
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// wire rebuilds the collaborators from the current settings. Callers hold mu
// for writing, or own s exclusively.
func (s *FileStateStore) wire() {
	s.tracer = tracing.Tracer(s.tracerProvider)
	s.recovery = recovery.New(
		recovery.WithRetain(s.retain),
		recovery.WithClock(s.clock),
		recovery.WithLogger(s.log),
		recovery.WithEventBus(s.bus),
	)
	s.locks = lock.New(s.stateDir,
		lock.WithTimeout(s.lockTimeout),
		lock.WithPollInterval(s.lockPoll),
		lock.WithClock(s.clock),
		lock.WithLogger(s.log),
		lock.WithEventBus(s.bus),
		lock.WithTracerProvider(s.tracerProvider),
	)
	s.ttl = ttl.New(
		ttl.WithClock(s.clock),
		ttl.WithExtensionWindow(s.cachePolicy.ExtensionWindow),
		ttl.WithExtensionDuration(s.cachePolicy.ExtensionDuration),
		ttl.WithMaxExtensions(s.cachePolicy.MaxExtensions),
	)
}

// reconfigure applies fn under the write lock and rewires collaborators.
func (s *FileStateStore) reconfigure(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.wire()
	return nil
}

// SetLogger replaces the logger and rewires the recovery, lock and TTL
// collaborators. The other setters follow the same pattern.
func (s *FileStateStore) SetLogger(log aslog.Logger) error {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return s.reconfigure(func() { s.log = log })
}

func (s *FileStateStore) SetEventBus(bus events.Bus) error {
	return s.reconfigure(func() { s.bus = internalevents.OrNoOp(bus) })
}

func (s *FileStateStore) SetTracerProvider(provider astracing.TracerProvider) error {
	return s.reconfigure(func() { s.tracerProvider = provider })
}

func (s *FileStateStore) SetClock(c asv1.Clock) error {
	return s.reconfigure(func() { s.clock = clock.Default(c) })
}

func (s *FileStateStore) SetLockTimeout(timeout time.Duration) error {
	return s.reconfigure(func() { s.lockTimeout = timeout })
}

func (s *FileStateStore) SetLockPollInterval(interval time.Duration) error {
	return s.reconfigure(func() { s.lockPoll = interval })
}

func (s *FileStateStore) SetBackupRetention(retain int) error {
	return s.reconfigure(func() { s.retain = retain })
}

func (s *FileStateStore) SetCachePolicy(policy asv1.CachePolicy) error {
	return s.reconfigure(func() { s.cachePolicy = policy })
}

func (s *FileStateStore) SetStateVersion(version string) error {
	if !config.ValidStateVersion(version) {
		return aserrors.NewConfigError(fmt.Sprintf("state version '%s' is not a semantic version", version), nil)
	}
	return s.reconfigure(func() { s.stateVersion = version })
}

// TracerProvider returns the provider used for store spans.
func (s *FileStateStore) TracerProvider() astracing.TracerProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracerProvider
}

// Recovery exposes the snapshot manager for inspection tooling.
func (s *FileStateStore) Recovery() *recovery.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovery
}

// Locks exposes the lock coordinator for inspection tooling.
func (s *FileStateStore) Locks() *lock.Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks
}

// TTL exposes the cache expiration manager.
func (s *FileStateStore) TTL() *ttl.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl
}

// BaseDir returns the directory holding state/.
func (s *FileStateStore) BaseDir() string { return s.baseDir }

// StateDir returns the directory holding the documents and lock markers.
func (s *FileStateStore) StateDir() string { return s.stateDir }

// Path resolves name to <stateDir>/<name>.json. A name already ending in
// ".json" is not suffixed again.
func (s *FileStateStore) Path(name string) string {
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return filepath.Join(s.stateDir, name)
}

// WorkflowPath returns the path of the workflow document.
func (s *FileStateStore) WorkflowPath() string { return s.Path(WorkflowName) }

// components returns a consistent view of the collaborators.
type components struct {
	log      aslog.Logger
	bus      events.Bus
	tracer   trace.Tracer
	clock    clock.Clock
	recovery *recovery.Manager
	locks    *lock.Coordinator
	ttl      *ttl.Manager
	version  string
}

func (s *FileStateStore) components() components {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return components{
		log:      s.log.With("component", "state"),
		bus:      s.bus,
		tracer:   s.tracer,
		clock:    s.clock,
		recovery: s.recovery,
		locks:    s.locks,
		ttl:      s.ttl,
		version:  s.stateVersion,
	}
}

// Save validates doc and atomically replaces the file at path with it.
// Invalid documents are rejected with an InvalidStateError before anything
// on disk changes. The previous content is snapshotted first and old
// snapshots are pruned afterwards; neither step can fail the save.
func (s *FileStateStore) Save(ctx context.Context, path string, doc state.Document) (*state.SaveReport, error) {
	c := s.components()
	_, span := tracing.StartSpan(ctx, c.tracer, "state.Save", attribute.String("state.path", path))
	defer span.End()

	if err := schema.Check(doc); err != nil {
		invalid := aserrors.NewInvalidStateError(path, err)
		c.log.Errorf("Refusing to save invalid state: %v", invalid)
		c.bus.Emit(events.Event{
			Type:      events.StateRejected,
			Timestamp: c.clock.Now(),
			Path:      path,
			Key:       recovery.Key(path),
			Error:     invalid.Error(),
		})
		tracing.RecordError(span, invalid)
		return nil, invalid
	}
	data, err := schema.Encode(doc)
	if err != nil {
		invalid := aserrors.NewInvalidStateError(path, err)
		tracing.RecordError(span, invalid)
		return nil, invalid
	}

	report := &state.SaveReport{Path: path, Bytes: len(data)}
	report.Backup = c.recovery.BackupFile(path)

	if err := util.AtomicWriteFile(path, data, fileMode); err != nil {
		err = fmt.Errorf("saving state '%s': %w", path, err)
		c.log.Errorf("Failed to write state file: %v", err)
		tracing.RecordError(span, err)
		return nil, err
	}

	report.Prune = c.recovery.Prune(path)
	span.SetAttributes(
		attribute.Int("state.bytes", report.Bytes),
		attribute.Bool("state.backup_ok", report.Backup.OK()),
		attribute.Int("state.pruned", len(report.Prune.Deleted)),
	)
	c.bus.Emit(events.Event{
		Type:      events.StateSaved,
		Timestamp: c.clock.Now(),
		Path:      path,
		Key:       recovery.Key(path),
		Payload:   map[string]interface{}{"bytes": report.Bytes},
	})
	return report, nil
}

// Load returns the document stored at path. It never fails:
//   - a missing file yields a deep copy of def and no file is created;
//   - an unreadable, non-UTF-8, malformed or invalid file yields the newest
//     valid snapshot, or a deep copy of def when there is none.
//
// The report says which of these happened.
func (s *FileStateStore) Load(ctx context.Context, path string, def state.Document) (state.Document, *state.LoadReport) {
	c := s.components()
	_, span := tracing.StartSpan(ctx, c.tracer, "state.Load", attribute.String("state.path", path))
	defer span.End()

	report := &state.LoadReport{Path: path}
	key := recovery.Key(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		report.Source = state.SourceDefault
		report.Missing = true
		s.emitLoaded(c, path, key, report.Source)
		span.SetAttributes(attribute.String("state.source", string(report.Source)))
		return util.CopyDocument(def), report
	}

	var doc state.Document
	if err != nil {
		report.Corruption = aserrors.NewCorruptionError(path, aserrors.StageRead, err)
	} else if doc, err = schema.Decode(path, data); err != nil {
		report.Corruption = err
	} else {
		report.Source = state.SourcePrimary
		s.emitLoaded(c, path, key, report.Source)
		span.SetAttributes(attribute.String("state.source", string(report.Source)))
		return doc, report
	}

	tracing.RecordError(span, report.Corruption)
	if recovered, from, ok := c.recovery.Recover(path); ok {
		c.log.Warnf("Recovered state from snapshot %s after %v", from, report.Corruption)
		report.Source = state.SourceRecovery
		report.RecoveredFrom = from
		c.bus.Emit(events.Event{
			Type:      events.StateRecovered,
			Timestamp: c.clock.Now(),
			Path:      path,
			Key:       key,
			Error:     report.Corruption.Error(),
			Payload:   map[string]interface{}{"recovered_from": from},
		})
		span.SetAttributes(attribute.String("state.source", string(report.Source)))
		return recovered, report
	}

	c.log.Warnf("No usable snapshot, resetting state to default: %v", report.Corruption)
	report.Source = state.SourceDefault
	c.bus.Emit(events.Event{
		Type:      events.StateReset,
		Timestamp: c.clock.Now(),
		Path:      path,
		Key:       key,
		Error:     report.Corruption.Error(),
	})
	span.SetAttributes(attribute.String("state.source", string(report.Source)))
	return util.CopyDocument(def), report
}

func (s *FileStateStore) emitLoaded(c components, path, key string, source state.Source) {
	c.bus.Emit(events.Event{
		Type:      events.StateLoaded,
		Timestamp: c.clock.Now(),
		Path:      path,
		Key:       key,
		Payload:   map[string]interface{}{internalevents.PayloadSource: string(source)},
	})
}

// Initialize creates the state and recovery directories and seeds the
// workflow document if it does not exist. It is safe to call repeatedly.
// An existing workflow whose state_version major differs from the
// configured one is left untouched and a warning is logged.
func (s *FileStateStore) Initialize(ctx context.Context) error {
	c := s.components()
	recoveryDir := filepath.Join(s.stateDir, recovery.DirName)
	if err := os.MkdirAll(recoveryDir, 0o755); err != nil {
		return fmt.Errorf("creating state directories under '%s': %w", s.stateDir, err)
	}

	wf := s.WorkflowPath()
	_, err := os.Stat(wf)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		doc := state.Document{
			state.KeyStateVersion:    c.version,
			state.KeyCurrentWorkflow: nil,
			state.KeyCreatedAt:       ttl.FormatTime(c.clock.Now()),
		}
		if _, err := s.Save(ctx, wf, doc); err != nil {
			return fmt.Errorf("seeding workflow state: %w", err)
		}
		c.log.Infof("Initialized state store at %s", s.stateDir)
		return nil
	case err != nil:
		return fmt.Errorf("checking workflow state '%s': %w", wf, err)
	}

	doc, _ := s.Load(ctx, wf, state.Document{})
	if found, ok := doc.StateVersion(); ok {
		if err := config.CheckStateVersion(c.version, found); err != nil {
			c.log.Warnf("Existing workflow state may be incompatible: %v", err)
		}
	}
	return nil
}

// WithLock runs fn while holding the lock for key ("" is the default lock).
// The lock is released when fn returns or panics. fn's error is returned.
func (s *FileStateStore) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	c := s.components()
	h, _, err := c.locks.Acquire(ctx, key, 0)
	if err != nil {
		return err
	}
	defer func() {
		if out := c.locks.Release(h); out.Err != nil {
			c.log.Warnf("Releasing lock %s: %v", out.LockPath, out.Err)
		}
	}()
	return fn(ctx)
}

// Update performs a locked read-modify-write of the document at path.
// def seeds the document when the file is missing or unrecoverable. If
// mutate fails nothing is written and its error is returned.
func (s *FileStateStore) Update(ctx context.Context, path string, def state.Document, mutate func(doc state.Document) error) (*state.SaveReport, error) {
	var report *state.SaveReport
	err := s.WithLock(ctx, "", func(ctx context.Context) error {
		doc, _ := s.Load(ctx, path, def)
		if doc == nil {
			doc = state.Document{}
		}
		if err := mutate(doc); err != nil {
			return err
		}
		var err error
		report, err = s.Save(ctx, path, doc)
		return err
	})
	return report, err
}

// TouchCache applies sliding expiration to the cache entry at path under the
// default lock. A renewal is persisted before returning.
func (s *FileStateStore) TouchCache(ctx context.Context, path string) (state.Document, bool, error) {
	var (
		doc   state.Document
		valid bool
	)
	err := s.WithLock(ctx, "", func(ctx context.Context) error {
		c := s.components()
		doc, _ = s.Load(ctx, path, nil)
		if doc == nil {
			return nil
		}
		before := c.ttl.Evaluate(doc)
		valid = c.ttl.CheckAndExtend(doc)

		switch {
		case before.WouldExtend:
			if _, err := s.Save(ctx, path, doc); err != nil {
				return err
			}
			c.bus.Emit(events.Event{
				Type:      events.CacheExtended,
				Timestamp: c.clock.Now(),
				Path:      path,
				Key:       recovery.Key(path),
				Payload:   map[string]interface{}{"extension_count": before.ExtensionCount + 1},
			})
		case !valid:
			c.bus.Emit(events.Event{
				Type:      events.CacheExpired,
				Timestamp: c.clock.Now(),
				Path:      path,
				Key:       recovery.Key(path),
			})
		}
		return nil
	})
	return doc, valid, err
}

var _ asv1.StoreV1 = (*FileStateStore)(nil)

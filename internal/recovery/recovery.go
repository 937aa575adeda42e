// Package recovery keeps timestamped snapshots of state files in a
// "recovery" directory next to them, trims them to a fixed count, and
// restores the newest snapshot that still validates.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentos-labs/agentstate/internal/clock"
	internalevents "github.com/agentos-labs/agentstate/internal/events"
	"github.com/agentos-labs/agentstate/internal/logger"
	"github.com/agentos-labs/agentstate/internal/retry"
	"github.com/agentos-labs/agentstate/internal/schema"
	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	aslog "github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
)

const (
	// DirName is the recovery directory created beside each primary file.
	DirName = "recovery"
	// DefaultRetain is the number of snapshots kept per key.
	DefaultRetain = 5

	stampLayout = "2006-01-02T15:04:05.000000000Z"
	// maxCollisionRetries bounds the 1ns bumps applied when a snapshot name
	// is already taken on disk.
	maxCollisionRetries = 64
)

const stampPattern = `\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{9}Z`

var stampRe = regexp.MustCompile(`^` + stampPattern + `$`)

// Backup describes one snapshot on disk.
type Backup struct {
	Path      string
	Name      string
	Timestamp time.Time
	ModTime   time.Time
	Size      int64
}

// Manager creates, prunes and restores snapshots. It is safe for concurrent use.
type Manager struct {
	retain int
	clock  clock.Clock
	log    aslog.Logger
	bus    events.Bus
	retry  *retry.Helper

	mu   sync.Mutex
	last map[string]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetain sets how many snapshots are kept per key. Values below 1 are ignored.
func WithRetain(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.retain = n
		}
	}
}

// WithClock sets the time source used to stamp snapshot names.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.Default(c) }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(log aslog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithEventBus sets the bus that receives backup events.
func WithEventBus(bus events.Bus) Option {
	return func(m *Manager) { m.bus = internalevents.OrNoOp(bus) }
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		retain: DefaultRetain,
		clock:  clock.RealClock{},
		log:    logger.NewDiscardLogger(),
		bus:    internalevents.NewNoOpEventBus(),
		last:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "recovery")
	m.retry = retry.NewHelper(m.log)
	return m
}

// Retain returns the configured retention count.
func (m *Manager) Retain() int { return m.retain }

// Dir returns the recovery directory for primaryPath.
func Dir(primaryPath string) string {
	return filepath.Join(filepath.Dir(primaryPath), DirName)
}

// Key returns the logical key of primaryPath: its base name without ".json".
func Key(primaryPath string) string {
	return strings.TrimSuffix(filepath.Base(primaryPath), ".json")
}

// FormatStamp renders t as the fixed-width, filename-safe UTC stamp used in
// snapshot names, e.g. 2024-01-15T10-30-00-123456789Z. Lexical order of
// stamps equals chronological order.
func FormatStamp(t time.Time) string {
	s := t.UTC().Format(stampLayout)
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// ParseStamp reverses FormatStamp.
func ParseStamp(s string) (time.Time, error) {
	if !stampRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("malformed snapshot stamp %q", s)
	}
	b := []byte(s)
	b[13], b[16], b[19] = ':', ':', '.'
	return time.Parse(stampLayout, string(b))
}

func namePattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(key) + `-(` + stampPattern + `)\.json$`)
}

// nextStamp returns a stamp strictly later than any previously issued for key.
func (m *Manager) nextStamp(key string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now().UTC()
	if last, ok := m.last[key]; ok && !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	m.last[key] = now
	return now
}

func (m *Manager) observeStamp(key string, ts time.Time) {
	m.mu.Lock()
	if ts.After(m.last[key]) {
		m.last[key] = ts
	}
	m.mu.Unlock()
}

// Backup writes data as a new snapshot for primaryPath. Failure never
// propagates: it is logged, emitted as BackupFailed and returned in the outcome.
func (m *Manager) Backup(primaryPath string, data []byte) state.BackupOutcome {
	key := Key(primaryPath)
	dir := Dir(primaryPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return m.backupFailed(primaryPath, key, err)
	}

	ts := m.nextStamp(key)
	var written string
	err := m.retry.Do(context.Background(), retry.Config{
		Attempts:    maxCollisionRetries,
		Name:        "backup " + key,
		ShouldRetry: func(err error) bool { return errors.Is(err, fs.ErrExist) },
	}, func(context.Context) error {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", key, FormatStamp(ts)))
		if err := writeExclusive(path, data); err != nil {
			if errors.Is(err, fs.ErrExist) {
				ts = ts.Add(time.Nanosecond)
			}
			return err
		}
		written = path
		return nil
	})
	if err != nil {
		return m.backupFailed(primaryPath, key, err)
	}
	m.observeStamp(key, ts)

	m.log.Debugf("Created recovery snapshot %s", written)
	m.bus.Emit(events.Event{
		Type:      events.BackupCreated,
		Timestamp: m.clock.Now(),
		Path:      written,
		Key:       key,
	})
	return state.BackupOutcome{Path: written}
}

// BackupFile snapshots the current content of primaryPath. When there is no
// primary yet the outcome is Skipped.
func (m *Manager) BackupFile(primaryPath string) state.BackupOutcome {
	data, err := os.ReadFile(primaryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return state.BackupOutcome{Skipped: true}
	}
	if err != nil {
		return m.backupFailed(primaryPath, Key(primaryPath), err)
	}
	return m.Backup(primaryPath, data)
}

func (m *Manager) backupFailed(primaryPath, key string, cause error) state.BackupOutcome {
	bErr := aserrors.NewBackupError("backup", primaryPath, cause)
	m.log.Warnf("Failed to create recovery snapshot: %v", bErr)
	m.bus.Emit(events.Event{
		Type:      events.BackupFailed,
		Timestamp: m.clock.Now(),
		Path:      primaryPath,
		Key:       key,
		Error:     bErr.Error(),
	})
	return state.BackupOutcome{Err: bErr}
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// List returns the snapshots of primaryPath, newest first: descending
// modification time, ties broken by descending name. A missing recovery
// directory yields an empty list.
func (m *Manager) List(primaryPath string) ([]Backup, error) {
	dir := Dir(primaryPath)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading recovery directory %s: %w", dir, err)
	}

	pattern := namePattern(Key(primaryPath))
	var backups []Backup
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		ts, _ := ParseStamp(match[1])
		backups = append(backups, Backup{
			Path:      filepath.Join(dir, entry.Name()),
			Name:      entry.Name(),
			Timestamp: ts,
			ModTime:   info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].ModTime.Equal(backups[j].ModTime) {
			return backups[i].ModTime.After(backups[j].ModTime)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// Prune deletes all but the newest Retain snapshots of primaryPath.
// Deletion failures are collected in the outcome and logged.
func (m *Manager) Prune(primaryPath string) state.PruneOutcome {
	var out state.PruneOutcome
	backups, err := m.List(primaryPath)
	if err != nil {
		bErr := aserrors.NewBackupError("prune", primaryPath, err)
		m.log.Warnf("Failed to list recovery snapshots: %v", bErr)
		out.Failures = append(out.Failures, bErr)
		return out
	}

	for i, b := range backups {
		if i < m.retain {
			out.Kept++
			continue
		}
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			bErr := aserrors.NewBackupError("prune", b.Path, err)
			m.log.Warnf("Failed to delete old recovery snapshot: %v", bErr)
			out.Failures = append(out.Failures, bErr)
			continue
		}
		out.Deleted = append(out.Deleted, b.Path)
	}

	if len(out.Deleted) > 0 || len(out.Failures) > 0 {
		ev := events.Event{
			Type:      events.BackupPruned,
			Timestamp: m.clock.Now(),
			Path:      primaryPath,
			Key:       Key(primaryPath),
			Payload: map[string]interface{}{
				internalevents.PayloadDeleted: len(out.Deleted),
				"failed":                      len(out.Failures),
			},
		}
		if len(out.Failures) > 0 {
			ev.Error = out.Failures[0].Error()
		}
		m.bus.Emit(ev)
	}
	return out
}

// Recover returns the newest snapshot of primaryPath that parses and
// validates, along with its path. Unusable snapshots are skipped.
func (m *Manager) Recover(primaryPath string) (state.Document, string, bool) {
	backups, err := m.List(primaryPath)
	if err != nil {
		m.log.Warnf("Cannot list recovery snapshots for %s: %v", primaryPath, err)
		return nil, "", false
	}
	for _, b := range backups {
		data, err := os.ReadFile(b.Path)
		if err != nil {
			m.log.Debugf("Skipping unreadable snapshot %s: %v", b.Path, err)
			continue
		}
		doc, err := schema.Decode(b.Path, data)
		if err != nil {
			m.log.Debugf("Skipping unusable snapshot %s: %v", b.Path, err)
			continue
		}
		return doc, b.Path, true
	}
	return nil, "", false
}

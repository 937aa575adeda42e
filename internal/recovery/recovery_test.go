package recovery_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentos-labs/agentstate/internal/clock"
	internalevents "github.com/agentos-labs/agentstate/internal/events"
	"github.com/agentos-labs/agentstate/internal/logger"
	"github.com/agentos-labs/agentstate/internal/recovery"
	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newManager(t *testing.T, opts ...recovery.Option) (*recovery.Manager, *clock.FakeClock) {
	t.Helper()
	fc := clock.NewFakeClock(baseTime)
	all := append([]recovery.Option{recovery.WithClock(fc)}, opts...)
	return recovery.New(all...), fc
}

// setAge gives each listed file a distinct mtime, oldest first.
func setAge(t *testing.T, paths ...string) {
	t.Helper()
	for i, p := range paths {
		mt := baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}
}

func TestStampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 5, 123456789, time.UTC)
	s := recovery.FormatStamp(ts)
	assert.Equal(t, "2024-01-15T10-30-05-123456789Z", s)

	parsed, err := recovery.ParseStamp(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	_, err = recovery.ParseStamp("2024-01-15T10:30:05.123Z")
	assert.Error(t, err)
}

func TestFormatStamp_FixedWidthOrdersLexically(t *testing.T) {
	a := recovery.FormatStamp(baseTime)
	b := recovery.FormatStamp(baseTime.Add(time.Nanosecond))
	assert.Len(t, a, len(b))
	assert.Less(t, a, b)
}

func TestKeyAndDir(t *testing.T) {
	assert.Equal(t, "workflow", recovery.Key("/a/state/workflow.json"))
	assert.Equal(t, filepath.Join("/a/state", "recovery"), recovery.Dir("/a/state/workflow.json"))
}

func TestBackup_StrictlyIncreasingNames(t *testing.T) {
	m, _ := newManager(t)
	primary := filepath.Join(t.TempDir(), "workflow.json")

	first := m.Backup(primary, []byte(`{"n":1}`))
	second := m.Backup(primary, []byte(`{"n":2}`))
	require.True(t, first.OK())
	require.True(t, second.OK())
	assert.Less(t, filepath.Base(first.Path), filepath.Base(second.Path))

	data, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(data))
}

func TestBackup_CollisionBumpsStamp(t *testing.T) {
	m, _ := newManager(t)
	primary := filepath.Join(t.TempDir(), "workflow.json")
	dir := recovery.Dir(primary)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	taken := filepath.Join(dir, "workflow-"+recovery.FormatStamp(baseTime)+".json")
	require.NoError(t, os.WriteFile(taken, []byte(`{"other":"process"}`), 0o644))

	out := m.Backup(primary, []byte(`{}`))
	require.True(t, out.OK())
	assert.Equal(t, filepath.Join(dir, "workflow-"+recovery.FormatStamp(baseTime.Add(time.Nanosecond))+".json"), out.Path)

	data, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, `{"other":"process"}`, string(data), "existing snapshot must not be overwritten")
}

func TestBackupFile_SkipsMissingPrimary(t *testing.T) {
	m, _ := newManager(t)
	out := m.BackupFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, out.Skipped)
	assert.True(t, out.OK())
	assert.Empty(t, out.Path)
}

func TestBackup_FailureIsNonFatal(t *testing.T) {
	bus := internalevents.NewChannelEventBus(4, logger.NewDiscardLogger())
	m, _ := newManager(t, recovery.WithEventBus(bus))
	base := t.TempDir()
	primary := filepath.Join(base, "workflow.json")
	// A regular file where the recovery directory should be.
	require.NoError(t, os.WriteFile(recovery.Dir(primary), []byte("x"), 0o644))

	out := m.Backup(primary, []byte(`{}`))
	require.False(t, out.OK())
	var bErr *aserrors.BackupError
	require.ErrorAs(t, out.Err, &bErr)
	assert.Equal(t, "backup", bErr.Op)

	ev := <-bus.GetChannel()
	assert.Equal(t, events.BackupFailed, ev.Type)
	assert.Equal(t, "workflow", ev.Key)
}

func TestPrune_KeepsNewestFive(t *testing.T) {
	m, _ := newManager(t)
	primary := filepath.Join(t.TempDir(), "workflow.json")

	var paths []string
	for i := 0; i < 7; i++ {
		out := m.Backup(primary, []byte(`{}`))
		require.True(t, out.OK())
		paths = append(paths, out.Path)
	}
	setAge(t, paths...)

	out := m.Prune(primary)
	assert.True(t, out.OK())
	assert.Equal(t, 5, out.Kept)
	assert.ElementsMatch(t, paths[:2], out.Deleted)

	listed, err := m.List(primary)
	require.NoError(t, err)
	require.Len(t, listed, 5)
	for i, b := range listed {
		assert.Equal(t, paths[6-i], b.Path, "listing must be newest first")
	}
}

func TestPrune_CustomRetain(t *testing.T) {
	m, _ := newManager(t, recovery.WithRetain(2), recovery.WithRetain(0))
	assert.Equal(t, 2, m.Retain())

	primary := filepath.Join(t.TempDir(), "workflow.json")
	for i := 0; i < 4; i++ {
		m.Backup(primary, []byte(`{}`))
	}
	out := m.Prune(primary)
	assert.Equal(t, 2, out.Kept)
	assert.Len(t, out.Deleted, 2)
}

func TestPrune_MissingDirectory(t *testing.T) {
	m, _ := newManager(t)
	out := m.Prune(filepath.Join(t.TempDir(), "workflow.json"))
	assert.True(t, out.OK())
	assert.Zero(t, out.Kept)
}

func TestList_IgnoresOtherKeysAndStrayFiles(t *testing.T) {
	m, _ := newManager(t)
	dir := t.TempDir()
	workflow := filepath.Join(dir, "workflow.json")
	cache := filepath.Join(dir, "workflow-cache.json")

	w := m.Backup(workflow, []byte(`{}`))
	m.Backup(cache, []byte(`{}`))
	m.Backup(cache, []byte(`{}`))
	require.NoError(t, os.WriteFile(filepath.Join(recovery.Dir(workflow), "workflow-notes.json"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(recovery.Dir(workflow), "workflow-"+recovery.FormatStamp(baseTime)+".json.tmp"), nil, 0o644))

	listed, err := m.List(workflow)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, w.Path, listed[0].Path)
	assert.True(t, listed[0].Timestamp.Equal(baseTime))

	listed, err = m.List(cache)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestRecover_SkipsCorruptNewerSnapshots(t *testing.T) {
	m, _ := newManager(t)
	primary := filepath.Join(t.TempDir(), "workflow.json")

	b1 := m.Backup(primary, []byte(`{"state_version":"1.0.0","step":1}`))
	b2 := m.Backup(primary, []byte(`{"state_version":`))
	b3 := m.Backup(primary, []byte(`{"state_version":42}`))
	setAge(t, b1.Path, b2.Path, b3.Path)

	doc, from, ok := m.Recover(primary)
	require.True(t, ok)
	assert.Equal(t, b1.Path, from)
	assert.Equal(t, state.Document{"state_version": "1.0.0", "step": 1.0}, doc)
}

func TestRecover_PrefersNewestValid(t *testing.T) {
	m, _ := newManager(t)
	primary := filepath.Join(t.TempDir(), "workflow.json")

	b1 := m.Backup(primary, []byte(`{"step":1}`))
	b2 := m.Backup(primary, []byte(`{"step":2}`))
	setAge(t, b1.Path, b2.Path)

	doc, from, ok := m.Recover(primary)
	require.True(t, ok)
	assert.Equal(t, b2.Path, from)
	assert.Equal(t, 2.0, doc["step"])
}

func TestRecover_NothingUsable(t *testing.T) {
	m, _ := newManager(t)
	primary := filepath.Join(t.TempDir(), "workflow.json")

	_, _, ok := m.Recover(primary)
	assert.False(t, ok)

	m.Backup(primary, []byte(`not json`))
	_, _, ok = m.Recover(primary)
	assert.False(t, ok)
}

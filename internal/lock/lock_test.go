package lock_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	internalevents "github.com/agentos-labs/agentstate/internal/events"
	"github.com/agentos-labs/agentstate/internal/lock"
	"github.com/agentos-labs/agentstate/internal/logger"
	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMarker(t *testing.T, path string) state.LockOwner {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var owner state.LockOwner
	require.NoError(t, json.Unmarshal(data, &owner))
	return owner
}

func plantMarker(t *testing.T, path, ownerID string) {
	t.Helper()
	data, err := json.Marshal(state.LockOwner{PID: 999999, OwnerID: ownerID, AcquiredAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestPath(t *testing.T) {
	c := lock.New("/base/state")
	assert.Equal(t, filepath.Join("/base/state", ".lock"), c.Path(""))
	assert.Equal(t, filepath.Join("/base/state", "workflow.lock"), c.Path("workflow"))
}

func TestAcquireRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	c := lock.New(dir)

	h, out, err := c.Acquire(context.Background(), "", time.Second)
	require.NoError(t, err)
	assert.False(t, out.Forced)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, filepath.Join(dir, ".lock"), h.Path)

	marker := readMarker(t, h.Path)
	assert.Equal(t, os.Getpid(), marker.PID)
	assert.Equal(t, h.Owner.OwnerID, marker.OwnerID)
	assert.NotEmpty(t, marker.OwnerID)
	assert.False(t, marker.AcquiredAt.IsZero())

	held, owner, err := c.Status("")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, h.Owner.OwnerID, owner.OwnerID)

	rel := c.Release(h)
	assert.True(t, rel.Removed)
	assert.False(t, rel.Displaced)
	assert.NoError(t, rel.Err)
	assert.NoFileExists(t, h.Path)
	assert.True(t, h.Released())

	held, _, err = c.Status("")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRelease_Idempotent(t *testing.T) {
	c := lock.New(t.TempDir())
	h, _, err := c.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	first := c.Release(h)
	second := c.Release(h)
	assert.True(t, first.Removed)
	assert.False(t, second.Removed)
	assert.NoError(t, second.Err)

	// A later owner is not disturbed by a repeated release of an old handle.
	h2, _, err := c.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	c.Release(h)
	assert.FileExists(t, h2.Path)

	assert.Equal(t, state.ReleaseOutcome{}, c.Release(nil))
	missing := c.ReleaseKey("never-held")
	assert.False(t, missing.Removed)
	assert.NoError(t, missing.Err)
}

func TestAcquire_ForcedTakeover(t *testing.T) {
	dir := t.TempDir()
	bus := internalevents.NewChannelEventBus(8, logger.NewDiscardLogger())
	c := lock.New(dir, lock.WithPollInterval(20*time.Millisecond), lock.WithEventBus(bus))
	plantMarker(t, c.Path(""), "stale-owner")

	start := time.Now()
	h, out, err := c.Acquire(context.Background(), "", 200*time.Millisecond)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.True(t, out.Forced)
	require.NotNil(t, out.Previous)
	assert.Equal(t, "stale-owner", out.Previous.OwnerID)
	var timeoutErr *aserrors.LockTimeoutError
	require.ErrorAs(t, out.Timeout, &timeoutErr)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)

	marker := readMarker(t, c.Path(""))
	assert.Equal(t, h.Owner.OwnerID, marker.OwnerID)
	assert.NotEqual(t, "stale-owner", marker.OwnerID)

	var types []events.EventType
	bus.Close()
	for ev := range bus.GetChannel() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{events.LockForced, events.LockAcquired}, types)
}

func TestAcquire_ForcedOverUnreadableMarker(t *testing.T) {
	c := lock.New(t.TempDir(), lock.WithPollInterval(10*time.Millisecond))
	require.NoError(t, os.WriteFile(c.Path("x"), []byte("garbage"), 0o644))

	h, out, err := c.Acquire(context.Background(), "x", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, out.Forced)
	assert.Nil(t, out.Previous)
	assert.Equal(t, h.Owner.OwnerID, readMarker(t, h.Path).OwnerID)
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	c := lock.New(t.TempDir(), lock.WithPollInterval(10*time.Millisecond))
	first, _, err := c.Acquire(context.Background(), "wf", time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		c.Release(first)
	}()

	second, out, err := c.Acquire(context.Background(), "wf", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, out.Forced)
	assert.Greater(t, out.Attempts, 1)
	assert.GreaterOrEqual(t, out.Waited, 90*time.Millisecond)
	assert.NotEqual(t, first.Owner.OwnerID, second.Owner.OwnerID)
	c.Release(second)
}

func TestAcquire_MutualExclusion(t *testing.T) {
	c := lock.New(t.TempDir(), lock.WithPollInterval(5*time.Millisecond))

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, out, err := c.Acquire(context.Background(), "", 10*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			assert.False(t, out.Forced)
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			c.Release(h)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestRelease_Displaced(t *testing.T) {
	c := lock.New(t.TempDir(), lock.WithPollInterval(10*time.Millisecond))
	slow, _, err := c.Acquire(context.Background(), "", time.Second)
	require.NoError(t, err)

	usurper, out, err := c.Acquire(context.Background(), "", 30*time.Millisecond)
	require.NoError(t, err)
	require.True(t, out.Forced)
	assert.Equal(t, slow.Owner.OwnerID, out.Previous.OwnerID)

	rel := c.Release(slow)
	assert.True(t, rel.Displaced)
	assert.True(t, rel.Removed)
	require.NotNil(t, rel.Current)
	assert.Equal(t, usurper.Owner.OwnerID, rel.Current.OwnerID)
	assert.NoFileExists(t, c.Path(""))

	assert.False(t, c.Release(usurper).Removed)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	c := lock.New(t.TempDir(), lock.WithPollInterval(10*time.Millisecond))
	plantMarker(t, c.Path(""), "holder")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	h, out, err := c.Acquire(ctx, "", 5*time.Second)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, out.Forced)
	assert.Equal(t, "holder", readMarker(t, c.Path("")).OwnerID)
}

func TestAcquire_InvalidKey(t *testing.T) {
	c := lock.New(t.TempDir())
	for _, key := range []string{"..", "a/b", `a\b`} {
		_, _, err := c.Acquire(context.Background(), key, time.Second)
		var vErr *aserrors.ValidationError
		assert.ErrorAs(t, err, &vErr, key)
	}
}

func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, lock.DefaultTimeout, lock.New(t.TempDir()).Timeout())
	assert.Equal(t, time.Second, lock.New(t.TempDir(), lock.WithTimeout(time.Second), lock.WithTimeout(-1)).Timeout())
}

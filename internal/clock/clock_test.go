package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/agentos-labs/agentstate/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	actual := clock.RealClock{}.Now()
	after := time.Now()

	assert.False(t, actual.Before(before), "RealClock returned a time before the call")
	assert.False(t, actual.After(after), "RealClock returned a time after the call")
}

func TestDefault(t *testing.T) {
	assert.IsType(t, clock.RealClock{}, clock.Default(nil))

	fake := clock.NewFakeClock(time.Unix(0, 0))
	assert.Same(t, fake, clock.Default(fake))
}

func TestFakeClock_SetAndAdvance(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	c := clock.NewFakeClock(start)

	assert.True(t, c.Now().Equal(start))

	c.Advance(90 * time.Second)
	assert.True(t, c.Now().Equal(start.Add(90*time.Second)))

	c.Advance(-30 * time.Second)
	assert.True(t, c.Now().Equal(start.Add(60*time.Second)))

	past := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(past)
	assert.True(t, c.Now().Equal(past))
}

// TestFakeClock_Concurrent exercises the mutex under the race detector.
func TestFakeClock_Concurrent(t *testing.T) {
	c := clock.NewFakeClock(time.Unix(0, 0))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); c.Advance(time.Millisecond) }()
		go func() { defer wg.Done(); _ = c.Now() }()
	}
	wg.Wait()
	assert.True(t, c.Now().Equal(time.Unix(0, 0).Add(50*time.Millisecond)))
}

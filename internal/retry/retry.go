// Package retry provides the bounded-retry and deadline-polling loops used by
// the recovery manager and the lock coordinator.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	aslog "github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
)

// ErrDeadline is returned by Poll when the timeout elapses before the
// condition is satisfied.
var ErrDeadline = errors.New("poll deadline exceeded")

// Operation is a unit of work retried by Do.
type Operation func(ctx context.Context) error

// Config controls Do.
type Config struct {
	Attempts      int
	Delay         time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	// ShouldRetry decides whether an error is transient. Nil retries every error.
	ShouldRetry func(error) bool
	Name        string
}

// Helper runs operations with retries and polls conditions until a deadline.
type Helper struct {
	log aslog.Logger

	mu         sync.Mutex
	randSource *rand.Rand
}

// NewHelper creates a Helper that logs retry attempts to log.
func NewHelper(log aslog.Logger) *Helper {
	if log == nil {
		panic("retry.NewHelper requires a non-nil logger")
	}
	return &Helper{
		log:        log,
		randSource: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *Helper) jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	h.mu.Lock()
	f := factor * (h.randSource.Float64()*2.0 - 1.0)
	h.mu.Unlock()
	d += time.Duration(float64(d) * f)
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned unwrapped.
func (h *Helper) Do(ctx context.Context, cfg Config, op Operation) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BackoffFactor < 1.0 {
		cfg.BackoffFactor = 1.0
	}
	cfg.Jitter = math.Max(0, math.Min(cfg.Jitter, 1))
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}

	prefix := ""
	if cfg.Name != "" {
		prefix = fmt.Sprintf("op=%s ", cfg.Name)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return fmt.Errorf("retry cancelled after %d attempts with last error: %w (context: %v)", attempt-1, lastErr, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				h.log.Debugf("%ssucceeded on attempt %d/%d", prefix, attempt, cfg.Attempts)
			}
			return nil
		}
		if attempt == cfg.Attempts || (cfg.ShouldRetry != nil && !cfg.ShouldRetry(lastErr)) {
			break
		}

		wait := time.Duration(math.Min(float64(cfg.Delay)*math.Pow(cfg.BackoffFactor, float64(attempt-1)), float64(math.MaxInt64)))
		wait = h.jitter(wait, cfg.Jitter)
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		h.log.Debugf("%sattempt %d/%d failed (retrying in %v): %v", prefix, attempt, cfg.Attempts, wait, lastErr)
		if wait == 0 {
			continue
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("retry delay cancelled after attempt %d with error: %w (context: %v)", attempt, lastErr, ctx.Err())
		}
	}
	return lastErr
}

// PollConfig controls Poll.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Jitter   float64
}

// PollResult summarizes a Poll run.
type PollResult struct {
	Attempts int
	Waited   time.Duration
}

// Condition reports whether polling can stop. A non-nil error aborts the poll.
type Condition func(ctx context.Context) (bool, error)

// Poll evaluates cond immediately and then every Interval until it reports
// done, returns an error, ctx is cancelled, or Timeout has elapsed since the
// first attempt. On timeout the error is ErrDeadline. A zero Timeout polls
// until ctx ends.
func (h *Helper) Poll(ctx context.Context, cfg PollConfig, cond Condition) (PollResult, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	start := time.Now()
	var res PollResult

	for {
		res.Attempts++
		done, err := cond(ctx)
		res.Waited = time.Since(start)
		if err != nil || done {
			return res, err
		}
		if cfg.Timeout > 0 && res.Waited >= cfg.Timeout {
			return res, ErrDeadline
		}

		wait := h.jitter(cfg.Interval, cfg.Jitter)
		if cfg.Timeout > 0 {
			if remaining := cfg.Timeout - res.Waited; wait > remaining {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.Waited = time.Since(start)
			return res, ctx.Err()
		}
	}
}

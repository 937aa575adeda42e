// Package ttl evaluates and renews the expiration metadata of cache entries.
//
// A cache entry is any document with a metadata object carrying timestamp
// and expires. Accessing an entry that is about to expire slides its
// expiration forward, up to a bounded number of times.
package ttl

import (
	"encoding/json"
	"math"
	"time"

	"github.com/agentos-labs/agentstate/internal/clock"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
)

const (
	DefaultExtensionWindow   = 60 * time.Second
	DefaultExtensionDuration = 5 * time.Minute
	DefaultMaxExtensions     = 12

	// TimeLayout is the encoding of every instant the manager writes.
	TimeLayout = "2006-01-02T15:04:05.000Z"
)

// Manager applies the sliding expiration rule. It holds no per-entry state.
type Manager struct {
	clock             clock.Clock
	extensionWindow   time.Duration
	extensionDuration time.Duration
	maxExtensions     int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used for expiry checks and renewals.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.Default(c) }
}

// WithExtensionWindow sets how close to expiry an access must be to renew.
func WithExtensionWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.extensionWindow = d
		}
	}
}

// WithExtensionDuration sets the lifetime granted by a renewal.
func WithExtensionDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.extensionDuration = d
		}
	}
}

// WithMaxExtensions sets the ceiling used when an entry does not carry its own.
func WithMaxExtensions(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxExtensions = n
		}
	}
}

// New returns a Manager with the default window, duration and ceiling.
func New(opts ...Option) *Manager {
	m := &Manager{
		clock:             clock.RealClock{},
		extensionWindow:   DefaultExtensionWindow,
		extensionDuration: DefaultExtensionDuration,
		maxExtensions:     DefaultMaxExtensions,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status is a read-only view of a cache entry's expiration state.
type Status struct {
	IsCache bool
	// Parsed is false when expires is missing or unreadable.
	Parsed         bool
	Expires        time.Time
	Remaining      time.Duration
	ExtensionCount int
	MaxExtensions  int
	// WouldExtend reports whether CheckAndExtend would renew the entry now.
	WouldExtend bool
	// Valid reports whether CheckAndExtend would return true now.
	Valid bool
}

// Evaluate reports the entry's status without modifying it.
func (m *Manager) Evaluate(doc state.Document) Status {
	meta, ok := doc.Metadata()
	if !ok {
		return Status{}
	}
	st := Status{
		IsCache:        true,
		ExtensionCount: intField(meta, state.MetaExtensionCount, 0),
		MaxExtensions:  intField(meta, state.MetaMaxExtensions, m.maxExtensions),
	}
	if st.MaxExtensions <= 0 {
		st.MaxExtensions = m.maxExtensions
	}

	expires, ok := ParseTime(meta[state.MetaExpires])
	if !ok {
		return st
	}
	now := m.clock.Now()
	st.Parsed = true
	st.Expires = expires
	st.Remaining = expires.Sub(now)
	st.WouldExtend = st.Remaining < m.extensionWindow && st.ExtensionCount < st.MaxExtensions
	st.Valid = st.WouldExtend || expires.After(now)
	return st
}

// CheckAndExtend reports whether the cache entry is usable, renewing it in
// place when it is within the extension window and below its extension
// ceiling. A renewal sets expires to now plus the extension duration,
// increments extension_count and stamps last_accessed. Documents without
// metadata, or with an unreadable expires, are not usable and are left
// untouched.
func (m *Manager) CheckAndExtend(doc state.Document) bool {
	st := m.Evaluate(doc)
	if !st.IsCache || !st.Parsed {
		return false
	}
	if !st.WouldExtend {
		return st.Valid
	}

	meta, _ := doc.Metadata()
	now := m.clock.Now()
	meta[state.MetaExpires] = FormatTime(now.Add(m.extensionDuration))
	meta[state.MetaExtensionCount] = st.ExtensionCount + 1
	meta[state.MetaLastAccessed] = FormatTime(now)
	return true
}

// NewEntry builds a cache document holding payload's keys plus fresh
// metadata expiring after ttl. Keys in payload named "metadata" are replaced.
func (m *Manager) NewEntry(payload map[string]interface{}, ttl time.Duration) state.Document {
	now := m.clock.Now()
	doc := make(state.Document, len(payload)+1)
	for k, v := range payload {
		doc[k] = v
	}
	doc[state.KeyMetadata] = map[string]interface{}{
		state.MetaTimestamp:      FormatTime(now),
		state.MetaExpires:        FormatTime(now.Add(ttl)),
		state.MetaExtensionCount: 0,
		state.MetaMaxExtensions:  m.maxExtensions,
	}
	return doc
}

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads an instant written as an RFC 3339 string or as a JSON
// number of Unix epoch milliseconds.
func ParseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case time.Time:
		return t, true
	default:
		ms, ok := number(v)
		if !ok || math.IsNaN(ms) || math.IsInf(ms, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).UTC(), true
	}
}

// intField returns meta[key] as an int. Absent, non-numeric, negative and
// fractional values yield def; values above math.MaxInt32 saturate so a huge
// count stays at or over any ceiling.
func intField(meta map[string]interface{}, key string, def int) int {
	n, ok := number(meta[key])
	if !ok || math.IsNaN(n) || n < 0 || n != math.Trunc(n) {
		return def
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

package events

import "time"

// EventType represents the type of a state store event.
type EventType string

// Standard agentstate Event Types
const (
	StateSaved     EventType = "StateSaved"     // Primary file atomically replaced
	StateLoaded    EventType = "StateLoaded"    // Primary file read and validated
	StateRecovered EventType = "StateRecovered" // Load fell back to a backup snapshot
	StateReset     EventType = "StateReset"     // Load fell back to the caller's default
	StateRejected  EventType = "StateRejected"  // Save refused an invalid document
	BackupCreated  EventType = "BackupCreated"
	BackupFailed   EventType = "BackupFailed"
	BackupPruned   EventType = "BackupPruned" // Payload: deleted, failed
	LockAcquired   EventType = "LockAcquired" // Payload: forced, waited_ms
	LockForced     EventType = "LockForced"   // Marker displaced after timeout
	LockReleased   EventType = "LockReleased"
	CacheExtended  EventType = "CacheExtended" // Sliding TTL renewal applied
	CacheExpired   EventType = "CacheExpired"
)

// Event represents a significant occurrence within the state store.
type Event struct {
	// Type categorizes the event.
	Type EventType `json:"type"`
	// Timestamp marks when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Path is the primary state file, backup file or lock marker involved.
	Path string `json:"path,omitempty"`
	// Key is the logical key (file base name or lock resource key).
	Key string `json:"key,omitempty"`
	// Error holds the message of a non-fatal failure, if any.
	Error string `json:"error,omitempty"`
	// Payload contains event-specific data. Document contents MUST NOT be
	// included; only counts, durations and paths.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus defines the interface for publishing store events.
type Bus interface {
	// Emit publishes an event to the bus.
	// Implementations must not block the calling store operation.
	Emit(event Event)
}

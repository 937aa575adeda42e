package events

import "github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"

// NoOpEventBus discards every event. Components fall back to it when no bus
// is configured so they never emit into a nil interface.
type NoOpEventBus struct{}

// NewNoOpEventBus returns a bus that discards events.
func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

// Emit does nothing.
func (n *NoOpEventBus) Emit(event events.Event) {}

var _ events.Bus = (*NoOpEventBus)(nil)

// OrNoOp returns bus, or a NoOpEventBus when bus is nil.
func OrNoOp(bus events.Bus) events.Bus {
	if bus == nil {
		return NewNoOpEventBus()
	}
	return bus
}

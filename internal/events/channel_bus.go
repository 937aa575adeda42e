package events

import (
	"sync"

	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	aslog "github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
)

// ChannelEventBus implements events.Bus with a buffered channel. Emit never
// blocks the store: when the buffer is full the event is dropped and a
// warning is logged.
type ChannelEventBus struct {
	channel chan events.Event
	log     aslog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChannelEventBus creates a bus with the given buffer size (default 100).
// Panics if log is nil.
func NewChannelEventBus(bufferSize int, log aslog.Logger) *ChannelEventBus {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}
	bus := &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
	bus.log.Debugf("ChannelEventBus initialized with buffer size %d", bufferSize)
	return bus
}

// Emit sends an event onto the channel without blocking. Events emitted
// after Close are discarded.
func (c *ChannelEventBus) Emit(event events.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.channel <- event:
	default:
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
	}
}

// GetChannel returns the read side of the event channel for in-process
// listeners.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the channel so listeners drain and stop. Safe to call twice.
func (c *ChannelEventBus) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.channel)
}

var _ events.Bus = (*ChannelEventBus)(nil)

package events

import (
	"context"
	"strconv"
	"time"

	"github.com/agentos-labs/agentstate/internal/metrics"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	aslog "github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
)

// Payload keys shared between emitters and the metrics listener.
const (
	PayloadSource    = "source"
	PayloadDeleted   = "deleted"
	PayloadForced    = "forced"
	PayloadWaitedMS  = "waited_ms"
	PayloadDisplaced = "displaced"
)

// MetricsEventListener consumes a ChannelEventBus and updates the store's
// Prometheus collectors.
type MetricsEventListener struct {
	bus        *ChannelEventBus
	log        aslog.Logger
	collectors *metrics.StoreCollectors
}

// NewMetricsEventListener panics if any dependency is nil.
func NewMetricsEventListener(bus *ChannelEventBus, collectors *metrics.StoreCollectors, log aslog.Logger) *MetricsEventListener {
	if bus == nil || collectors == nil || log == nil {
		panic("MetricsEventListener requires a non-nil ChannelEventBus, StoreCollectors, and Logger")
	}
	return &MetricsEventListener{
		bus:        bus,
		log:        log.With("component", "MetricsEventListener"),
		collectors: collectors,
	}
}

// Start consumes events until the bus is closed or ctx is done. It blocks;
// run it in its own goroutine.
func (l *MetricsEventListener) Start(ctx context.Context) {
	l.log.Debugf("Starting metrics event listener...")
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				l.log.Debugf("Event bus channel closed, stopping listener.")
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping metrics event listener.")
			return
		}
	}
}

func (l *MetricsEventListener) handleEvent(event events.Event) {
	c := l.collectors
	switch event.Type {
	case events.StateSaved:
		c.Saves.WithLabelValues("ok").Inc()
	case events.StateRejected:
		c.Saves.WithLabelValues("invalid").Inc()
	case events.StateLoaded:
		source, _ := event.Payload[PayloadSource].(string)
		if source == "" {
			source = "primary"
		}
		c.Loads.WithLabelValues(source).Inc()
	case events.StateRecovered:
		c.Loads.WithLabelValues("recovery").Inc()
	case events.StateReset:
		c.Loads.WithLabelValues("default").Inc()
	case events.BackupCreated:
		c.Backups.WithLabelValues("created").Inc()
	case events.BackupFailed:
		c.Backups.WithLabelValues("failed").Inc()
	case events.BackupPruned:
		if n, ok := event.Payload[PayloadDeleted].(int); ok && n > 0 {
			c.BackupsPruned.Add(float64(n))
		}
	case events.LockAcquired:
		forced, _ := event.Payload[PayloadForced].(bool)
		c.LockAcquired.WithLabelValues(strconv.FormatBool(forced)).Inc()
		if ms, ok := event.Payload[PayloadWaitedMS].(int64); ok {
			c.LockWait.Observe((time.Duration(ms) * time.Millisecond).Seconds())
		}
	case events.LockReleased:
		displaced, _ := event.Payload[PayloadDisplaced].(bool)
		c.LockReleased.WithLabelValues(strconv.FormatBool(displaced)).Inc()
	case events.CacheExtended:
		c.CacheExtensions.Inc()
	case events.CacheExpired:
		c.CacheExpired.Inc()
	default:
		l.log.Debugf("Metrics listener ignoring event type: %s", event.Type)
	}
}

package events_test

import (
	"context"
	"testing"

	internalevents "github.com/agentos-labs/agentstate/internal/events"
	"github.com/agentos-labs/agentstate/internal/logger"
	"github.com/agentos-labs/agentstate/internal/metrics"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEventBus_DropsWhenFull(t *testing.T) {
	bus := internalevents.NewChannelEventBus(1, logger.NewDiscardLogger())
	bus.Emit(events.Event{Type: events.StateSaved})
	bus.Emit(events.Event{Type: events.StateLoaded}) // dropped

	got := <-bus.GetChannel()
	assert.Equal(t, events.StateSaved, got.Type)
	assert.Len(t, bus.GetChannel(), 0)
}

func TestChannelEventBus_CloseIsIdempotent(t *testing.T) {
	bus := internalevents.NewChannelEventBus(4, logger.NewDiscardLogger())
	bus.Close()
	bus.Close()
	assert.NotPanics(t, func() { bus.Emit(events.Event{Type: events.StateSaved}) })

	_, ok := <-bus.GetChannel()
	assert.False(t, ok)
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, &internalevents.NoOpEventBus{}, internalevents.OrNoOp(nil))

	bus := internalevents.NewChannelEventBus(1, logger.NewDiscardLogger())
	assert.Same(t, bus, internalevents.OrNoOp(bus))
}

func TestMetricsEventListener_UpdatesCollectors(t *testing.T) {
	log := logger.NewDiscardLogger()
	provider := metrics.NewPrometheusRegistryProvider()
	collectors, err := metrics.NewStoreCollectors(provider.Registry())
	require.NoError(t, err)

	bus := internalevents.NewChannelEventBus(32, log)
	listener := internalevents.NewMetricsEventListener(bus, collectors, log)

	bus.Emit(events.Event{Type: events.StateSaved})
	bus.Emit(events.Event{Type: events.StateSaved})
	bus.Emit(events.Event{Type: events.StateRejected})
	bus.Emit(events.Event{Type: events.StateLoaded, Payload: map[string]interface{}{internalevents.PayloadSource: "default"}})
	bus.Emit(events.Event{Type: events.StateRecovered})
	bus.Emit(events.Event{Type: events.BackupCreated})
	bus.Emit(events.Event{Type: events.BackupFailed})
	bus.Emit(events.Event{Type: events.BackupPruned, Payload: map[string]interface{}{internalevents.PayloadDeleted: 3}})
	bus.Emit(events.Event{Type: events.LockAcquired, Payload: map[string]interface{}{
		internalevents.PayloadForced:   true,
		internalevents.PayloadWaitedMS: int64(250),
	}})
	bus.Emit(events.Event{Type: events.LockReleased, Payload: map[string]interface{}{internalevents.PayloadDisplaced: false}})
	bus.Emit(events.Event{Type: events.CacheExtended})
	bus.Emit(events.Event{Type: events.CacheExpired})
	bus.Close()

	listener.Start(context.Background())

	assert.Equal(t, 2.0, testutil.ToFloat64(collectors.Saves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Saves.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Loads.WithLabelValues("default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Loads.WithLabelValues("recovery")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Backups.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Backups.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collectors.BackupsPruned))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.LockAcquired.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.LockReleased.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.CacheExtensions))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.CacheExpired))
	assert.Equal(t, 1, testutil.CollectAndCount(collectors.LockWait))
}

func TestMetricsEventListener_StopsOnContext(t *testing.T) {
	log := logger.NewDiscardLogger()
	collectors, err := metrics.NewStoreCollectors(metrics.NewPrometheusRegistryProvider().Registry())
	require.NoError(t, err)
	bus := internalevents.NewChannelEventBus(1, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	internalevents.NewMetricsEventListener(bus, collectors, log).Start(ctx)
}

package metrics_test

import (
	"testing"

	"github.com/agentos-labs/agentstate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreCollectors_Registers(t *testing.T) {
	provider := metrics.NewPrometheusRegistryProvider()
	c, err := metrics.NewStoreCollectors(provider.Registry())
	require.NoError(t, err)

	c.Saves.WithLabelValues("ok").Inc()
	c.BackupsPruned.Add(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Saves.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.BackupsPruned))

	families, err := provider.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "agentstate_saves_total")
	assert.Contains(t, names, "agentstate_backups_pruned_total")
}

func TestNewStoreCollectors_DoubleRegistrationFails(t *testing.T) {
	provider := metrics.NewPrometheusRegistryProvider()
	_, err := metrics.NewStoreCollectors(provider.Registry())
	require.NoError(t, err)

	_, err = metrics.NewStoreCollectors(provider.Registry())
	assert.Error(t, err)
}

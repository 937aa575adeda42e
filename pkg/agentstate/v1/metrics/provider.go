package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider defines the interface for accessing the store's metrics registry.
// Embedding applications can expose the registry via their own Prometheus endpoint.
type RegistryProvider interface {
	// Registry returns the Prometheus registry containing agentstate metrics.
	Registry() *prometheus.Registry
}

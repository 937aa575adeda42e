package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentstate"

// StoreCollectors groups the Prometheus collectors describing state store
// activity. They are fed by the events.MetricsEventListener.
type StoreCollectors struct {
	Saves           *prometheus.CounterVec
	Loads           *prometheus.CounterVec
	Backups         *prometheus.CounterVec
	BackupsPruned   prometheus.Counter
	LockAcquired    *prometheus.CounterVec
	LockWait        prometheus.Histogram
	LockReleased    *prometheus.CounterVec
	CacheExtensions prometheus.Counter
	CacheExpired    prometheus.Counter
}

// NewStoreCollectors creates the store collectors and registers them on reg.
func NewStoreCollectors(reg prometheus.Registerer) (*StoreCollectors, error) {
	c := &StoreCollectors{
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "State document saves by result (ok, invalid).",
		}, []string{"result"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "State document loads by resolved source (primary, recovery, default).",
		}, []string{"source"}),
		Backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Recovery snapshots by result (created, failed).",
		}, []string{"result"}),
		BackupsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_pruned_total",
			Help:      "Recovery snapshots deleted by retention pruning.",
		}),
		LockAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Lock acquisitions, labelled by whether a stale marker was forcibly displaced.",
		}, []string{"forced"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a lock marker to clear.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		LockReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_releases_total",
			Help:      "Lock releases, labelled by whether the marker named another owner.",
		}, []string{"displaced"}),
		CacheExtensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_extensions_total",
			Help:      "Sliding TTL renewals applied to cache entries.",
		}),
		CacheExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expired_total",
			Help:      "Cache entries found expired on access.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.Saves, c.Loads, c.Backups, c.BackupsPruned,
		c.LockAcquired, c.LockWait, c.LockReleased,
		c.CacheExtensions, c.CacheExpired,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Package metrics defines the Prometheus instruments for the sync engine and
// the location resolver. They are registered on the default registry and
// exported by the dashboard server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts reconciliation passes by outcome.
	// Result is one of "success", "failure", "skipped".
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pupilsync_sync_runs_total",
		Help: "Reconciliation passes by outcome.",
	}, []string{"result"})

	// ReplayFailures counts pending mutations whose replay against the
	// server failed and stayed queued.
	ReplayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pupilsync_replay_failures_total",
		Help: "Pending mutations that failed to replay.",
	})

	// PendingMutations tracks the queue depth observed at the start of the
	// most recent reconciliation pass.
	PendingMutations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pupilsync_pending_mutations",
		Help: "Pending local mutations at the last sync pass.",
	})

	// GeocodeCacheHits counts lookups answered from the spatial cache.
	GeocodeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pupilsync_geocode_cache_hits_total",
		Help: "Location lookups served from the local cache.",
	})

	// GeocodeCacheMisses counts lookups that had to call the geocoding API.
	GeocodeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pupilsync_geocode_cache_misses_total",
		Help: "Location lookups that reached the geocoding API.",
	})

	// GeocodeFailures counts lookups that produced no name at all.
	GeocodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pupilsync_geocode_failures_total",
		Help: "Location lookups that failed to resolve.",
	})
)

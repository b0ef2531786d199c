package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adrianco/the-goodies-sub000/pkg/syncstate"
)

// syncMetrics mirrors the Sync State Manager's running metrics (§4.8) as
// Prometheus gauges for external scraping, grounded on the teacher's
// pkg/monitoring dedicated-registry pattern rather than the global
// default registry.
type syncMetrics struct {
	registry          *prometheus.Registry
	totalSyncs        prometheus.Gauge
	totalConflicts    prometheus.Gauge
	totalFailures     prometheus.Gauge
	averageDurationMS prometheus.Gauge
}

func newSyncMetrics() *syncMetrics {
	m := &syncMetrics{
		registry: prometheus.NewRegistry(),
		totalSyncs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbetweenies_sync_total",
			Help: "Total sync attempts recorded by the sync state manager.",
		}),
		totalConflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbetweenies_sync_conflicts_total",
			Help: "Total conflicts recorded across all sync attempts.",
		}),
		totalFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbetweenies_sync_failures_total",
			Help: "Total failed sync attempts.",
		}),
		averageDurationMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbetweenies_sync_duration_ms_avg",
			Help: "Running arithmetic mean of sync duration in milliseconds.",
		}),
	}
	m.registry.MustRegister(m.totalSyncs, m.totalConflicts, m.totalFailures, m.averageDurationMS)
	return m
}

// refresh pulls the latest snapshot into the gauges. Called on every scrape
// rather than on every sync, so a slow-moving server never serves stale
// values between scrapes.
func (m *syncMetrics) refresh(snapshot syncstate.Metrics) {
	m.totalSyncs.Set(float64(snapshot.TotalSyncs))
	m.totalConflicts.Set(float64(snapshot.TotalConflicts))
	m.totalFailures.Set(float64(snapshot.TotalFailures))
	m.averageDurationMS.Set(snapshot.AverageDurationMS)
}

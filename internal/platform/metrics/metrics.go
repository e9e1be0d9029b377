// Package metrics holds the Prometheus collectors of the dashboard process.
// Every method is safe to call on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	cacheLookups    *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	events          *prometheus.CounterVec
	snapshotVersion prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_fetch_cache_lookups_total",
				Help: "Fetch cache lookups by cache and outcome (hit, miss, shared, error, bypass).",
			},
			[]string{"cache", "outcome"},
		),
		reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_reconciliations_total",
				Help: "Lifecycle event reconciliations by event kind and outcome.",
			},
			[]string{"event", "outcome"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_events_received_total",
				Help: "Lifecycle events received from the event stream.",
			},
			[]string{"event"},
		),
		snapshotVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashboard_snapshot_version",
				Help: "Version of the latest published state snapshot.",
			},
		),
	}
}

func (m *Metrics) ObserveCache(cache, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(cache, outcome).Inc()
}

func (m *Metrics) ObserveReconcile(event, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) SetSnapshotVersion(version uint64) {
	if m == nil {
		return
	}
	m.snapshotVersion.Set(float64(version))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

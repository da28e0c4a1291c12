// Package metrics exposes Prometheus counters for plan storage activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the plan's collectors. A nil *Metrics is valid and records
// nothing, so callers never need to check.
type Metrics struct {
	registry *prometheus.Registry

	writes          *prometheus.CounterVec
	writeErrors     *prometheus.CounterVec
	syncs           prometheus.Counter
	migrations      *prometheus.CounterVec
	reconciliations prometheus.Counter
	passagesRead    prometheus.Gauge
}

// New creates the collectors on a fresh registry, alongside the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		// writes counts key writes by tier and key kind
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcheyne_store_writes_total",
			Help: "Total plan store writes by tier and key kind",
		}, []string{"tier", "kind"}),

		// writeErrors counts swallowed storage failures by tier and operation
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcheyne_store_errors_total",
			Help: "Total plan store failures by tier and operation",
		}, []string{"tier", "operation"}),

		syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcheyne_cloud_synchronize_total",
			Help: "Total synchronize requests sent to the cloud store",
		}),

		// migrations counts schema and tier migrations by kind and result
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcheyne_migrations_total",
			Help: "Total plan migrations by kind and result",
		}, []string{"kind", "result"}),

		reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcheyne_reconciliations_total",
			Help: "Total reloads triggered by external cloud changes",
		}),

		passagesRead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcheyne_passages_read",
			Help: "Number of passages currently marked read",
		}),
	}

	reg.MustRegister(m.writes, m.writeErrors, m.syncs, m.migrations, m.reconciliations, m.passagesRead)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StoreWrite records a write of a key of the given kind to tier.
func (m *Metrics) StoreWrite(tier, kind string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(tier, kind).Inc()
}

// StoreError records a storage failure that was logged and swallowed.
func (m *Metrics) StoreError(tier, operation string) {
	if m == nil {
		return
	}
	m.writeErrors.WithLabelValues(tier, operation).Inc()
}

// Synchronize records a cloud synchronize request.
func (m *Metrics) Synchronize() {
	if m == nil {
		return
	}
	m.syncs.Inc()
}

// Migration records a migration attempt. kind is "v2" or "cloud"; result is
// "applied", "skipped" or "failed".
func (m *Metrics) Migration(kind, result string) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(kind, result).Inc()
}

// Reconciliation records a reload after an external change.
func (m *Metrics) Reconciliation() {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
}

// SetPassagesRead records the current number of completed passages.
func (m *Metrics) SetPassagesRead(n int) {
	if m == nil {
		return
	}
	m.passagesRead.Set(float64(n))
}

// Package metrics holds the Prometheus instruments of the migrator. Every
// method is safe to call on a nil *Metrics, so callers that run without
// metrics can pass nil.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schema_migrator"

// Run statuses.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Metrics wraps the migrator's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	Operations     *prometheus.CounterVec
	Runs           *prometheus.CounterVec
	RestoredRows   prometheus.Counter
	UnitsGenerated prometheus.Counter
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Structural operations applied by the reconciler, by kind.",
		}, []string{"op"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Migration unit runs, by outcome.",
		}, []string{"status"}),
		RestoredRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restored_rows_total",
			Help:      "Rows inserted by snapshot restores.",
		}),
		UnitsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_generated_total",
			Help:      "Migration units generated from live tables.",
		}),
	}
	reg.MustRegister(m.Operations, m.Runs, m.RestoredRows, m.UnitsGenerated)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveOperation(op string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}

func (m *Metrics) AddRestoredRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RestoredRows.Add(float64(n))
}

func (m *Metrics) IncUnitsGenerated() {
	if m == nil {
		return
	}
	m.UnitsGenerated.Inc()
}

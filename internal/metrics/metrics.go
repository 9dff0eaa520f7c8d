// Package metrics exposes Prometheus counters for rating edits, imports, and
// merge outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mitasat"

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	ratingsSaved   prometheus.Counter
	merges         *prometheus.CounterVec
	imports        *prometheus.CounterVec
	importDuration prometheus.Histogram
	sseClients     prometheus.GaugeFunc
}

// New registers the collectors. clients, when non-nil, is sampled for the
// connected SSE client gauge.
func New(clients func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		ratingsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_saved_total",
			Help:      "Aspect ratings written through the edit API.",
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_results_total",
			Help:      "Per-area merge outcomes by disposition.",
		}, []string{"disposition"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Bundle imports by result.",
		}, []string{"result"}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of bundle imports.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ratingsSaved, m.merges, m.imports, m.importDuration,
	)
	if clients != nil {
		m.sseClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_clients",
			Help:      "Connected Server-Sent Events clients.",
		}, func() float64 { return float64(clients()) })
		reg.MustRegister(m.sseClients)
	}
	return m
}

// ObserveMerge counts one area merge outcome.
func (m *Metrics) ObserveMerge(disposition string) {
	m.merges.WithLabelValues(disposition).Inc()
}

// ObserveImport records one finished import.
func (m *Metrics) ObserveImport(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.imports.WithLabelValues(result).Inc()
	m.importDuration.Observe(elapsed.Seconds())
}

// ObserveRatingSaved counts one rating edit.
func (m *Metrics) ObserveRatingSaved() { m.ratingsSaved.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for node-warden.
type Metrics struct {
	registry                *prometheus.Registry
	tickDurationSeconds     prometheus.Histogram
	servicesTotal           *prometheus.GaugeVec
	actionsTotal            *prometheus.CounterVec
	escalationsTotal        prometheus.Counter
	internalErrorsTotal     prometheus.Counter
	lastSuccessfulTickGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		tickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "node_warden_tick_duration_seconds",
			Help:    "Duration of reconciliation ticks in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		servicesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "node_warden_services_total",
			Help: "Supervised services by status.",
		}, []string{"status"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_warden_actions_total",
			Help: "Corrective actions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		escalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "node_warden_escalations_total",
			Help: "Escalation notifications fired.",
		}),
		internalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "node_warden_internal_errors_total",
			Help: "Controller-internal probe/action errors.",
		}),
		lastSuccessfulTickGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_warden_last_successful_tick_timestamp",
			Help: "Unix timestamp of the last completed tick.",
		}),
	}

	registry.MustRegister(
		m.tickDurationSeconds,
		m.servicesTotal,
		m.actionsTotal,
		m.escalationsTotal,
		m.internalErrorsTotal,
		m.lastSuccessfulTickGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTickDuration records the duration of a completed tick.
func (m *Metrics) ObserveTickDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.tickDurationSeconds.Observe(duration.Seconds())
}

// SetServicesTotal sets the services gauge for the given status.
func (m *Metrics) SetServicesTotal(status string, value int) {
	if m == nil {
		return
	}
	m.servicesTotal.WithLabelValues(status).Set(float64(value))
}

// IncActions increments the action counter for the given kind/outcome.
func (m *Metrics) IncActions(kind string, outcome string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncEscalations increments the escalation counter.
func (m *Metrics) IncEscalations() {
	if m == nil {
		return
	}
	m.escalationsTotal.Inc()
}

// IncInternalErrors increments the controller-internal error counter.
func (m *Metrics) IncInternalErrors() {
	if m == nil {
		return
	}
	m.internalErrorsTotal.Inc()
}

// SetLastSuccessfulTickTimestamp sets the last completed tick time.
func (m *Metrics) SetLastSuccessfulTickTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulTickGauge.Set(float64(t.Unix()))
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "availability"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RegenerationMetrics covers coordinator runs. A nil *RegenerationMetrics is
// valid and records nothing.
type RegenerationMetrics struct {
	Runs           *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	AlreadyRunning prometheus.Counter
	ProtectedDays  prometheus.Counter
}

func NewRegenerationMetrics(reg prometheus.Registerer) *RegenerationMetrics {
	m := &RegenerationMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regeneration_runs_total",
			Help:      "Total number of regeneration runs, by mode and result.",
		}, []string{"mode", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "regeneration_duration_seconds",
			Help:      "Duration of generation service calls in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),
		AlreadyRunning: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regeneration_already_running_total",
			Help:      "Runs rejected because one was already in flight for the restaurant.",
		}),
		ProtectedDays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protected_days_total",
			Help:      "Calendar exceptions written to keep reserved dates open.",
		}),
	}

	reg.MustRegister(m.Runs, m.Duration, m.AlreadyRunning, m.ProtectedDays)
	return m
}

func (m *RegenerationMetrics) ObserveRun(mode, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(mode, result).Inc()
	if d > 0 {
		m.Duration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

func (m *RegenerationMetrics) ObserveAlreadyRunning() {
	if m == nil {
		return
	}
	m.AlreadyRunning.Inc()
}

func (m *RegenerationMetrics) ObserveProtected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProtectedDays.Add(float64(n))
}

// StalenessMetrics covers stale flag transitions.
type StalenessMetrics struct {
	Transitions *prometheus.CounterVec
	Active      prometheus.Gauge
}

func NewStalenessMetrics(reg prometheus.Registerer) *StalenessMetrics {
	m := &StalenessMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_transitions_total",
			Help:      "Stale flag transitions, by transition.",
		}, []string{"transition"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_restaurants",
			Help:      "Restaurants whose availability is currently stale.",
		}),
	}
	reg.MustRegister(m.Transitions, m.Active)
	return m
}

func (m *StalenessMetrics) ObserveTransition(transition string, active int) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(transition).Inc()
	m.Active.Set(float64(active))
}

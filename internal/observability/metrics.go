package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute is the label value used for requests that do not
// match any registered route or proxy rule, keeping cardinality bounded.
const unmatchedRoute = "unmatched"

// Metrics holds all Prometheus metrics for the route server.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	activeRequests     prometheus.Gauge
	forwardAttempts    *prometheus.CounterVec
	forwardRetries     *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance. All collectors are
// registered on a private registry so independent server instances do
// not collide.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "routegate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of requests currently being dispatched",
		},
	)

	m.forwardAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_attempts_total",
			Help:      "Total number of outbound forward attempts",
		},
		[]string{"rule", "outcome"},
	)

	m.forwardRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_retries_total",
			Help:      "Total number of forward retries after transport failures",
		},
		[]string{"rule"},
	)

	m.breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"rule", "from", "to"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.forwardAttempts,
		m.forwardRetries,
		m.breakerTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRequest records a completed dispatch.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if route == "" {
		route = unmatchedRoute
	}
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// RequestStarted increments the in-flight request gauge.
func (m *Metrics) RequestStarted() {
	m.activeRequests.Inc()
}

// RequestFinished decrements the in-flight request gauge.
func (m *Metrics) RequestFinished() {
	m.activeRequests.Dec()
}

// ObserveForwardAttempt records one outbound attempt for a proxy rule.
// Outcome is one of "success", "error" or "rejected".
func (m *Metrics) ObserveForwardAttempt(rule, outcome string) {
	m.forwardAttempts.WithLabelValues(rule, outcome).Inc()
}

// ObserveForwardRetry records a retry for a proxy rule.
func (m *Metrics) ObserveForwardRetry(rule string) {
	m.forwardRetries.WithLabelValues(rule).Inc()
}

// ObserveBreakerTransition records a circuit breaker state change.
func (m *Metrics) ObserveBreakerTransition(rule, from, to string) {
	m.breakerTransitions.WithLabelValues(rule, from, to).Inc()
}

// Handler returns an http.Handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

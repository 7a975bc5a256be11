// Package metrics exposes the gateway's Prometheus collectors: per-model
// request outcomes, routing attempts, fallback usage, and circuit-breaker
// state, scraped via the admin surface's /admin/metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openlane-dev/freegate/internal/state"
)

// Collector holds every counter/histogram/gauge the Router and its
// components update. One Collector is created per process and shared.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attemptsTotal   *prometheus.HistogramVec
	switchesTotal   *prometheus.CounterVec
	fallbacksTotal  prometheus.Counter
	circuitState    *prometheus.GaugeVec
	rateLimitDenied *prometheus.CounterVec
}

// NewCollector registers every collector under namespace (default
// "freegate" if empty) against reg. Pass prometheus.DefaultRegisterer in
// production, a fresh prometheus.NewRegistry() in tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "freegate"
	}
	factory := promauto.With(reg)

	return &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total chat-completion requests by model and outcome.",
			},
			[]string{"provider", "model", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Per-attempt upstream call latency.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		attemptsTotal: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempts_per_request",
				Help:      "Number of provider attempts made per routed request.",
				Buckets:   prometheus.LinearBuckets(1, 1, 6),
			},
			[]string{"outcome"},
		),
		switchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_switches_total",
				Help:      "Total model-to-model switches performed by the router.",
			},
			[]string{"from_model", "reason"},
		),
		fallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total requests rescued by the configured fallback model.",
			},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit state per model: 0=CLOSED 1=HALF_OPEN 2=OPEN 3=PERMANENTLY_UNAVAILABLE.",
			},
			[]string{"model"},
		),
		rateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_denied_total",
				Help:      "Total local admission rejections by the per-model token bucket.",
			},
			[]string{"model"},
		),
	}
}

// ObserveAttempt records one provider call's outcome and latency.
func (c *Collector) ObserveAttempt(provider, model, outcome string, seconds float64) {
	c.requestsTotal.WithLabelValues(provider, model, outcome).Inc()
	c.requestDuration.WithLabelValues(provider, model).Observe(seconds)
}

// ObserveRequest records the attempt count for one completed routed request.
func (c *Collector) ObserveRequest(outcome string, attempts int) {
	c.attemptsTotal.WithLabelValues(outcome).Observe(float64(attempts))
}

// ObserveSwitch records the router abandoning a model for another.
func (c *Collector) ObserveSwitch(fromModel, reason string) {
	c.switchesTotal.WithLabelValues(fromModel, reason).Inc()
}

// ObserveFallback records one fallback-rescued request.
func (c *Collector) ObserveFallback() {
	c.fallbacksTotal.Inc()
}

// SetCircuitState publishes a model's current circuit state as a gauge.
func (c *Collector) SetCircuitState(model string, value float64) {
	c.circuitState.WithLabelValues(model).Set(value)
}

// ObserveRateLimitDenied records one local admission rejection.
func (c *Collector) ObserveRateLimitDenied(model string) {
	c.rateLimitDenied.WithLabelValues(model).Inc()
}

// CircuitStateValue maps a state.ModelState circuit state to the numeric
// gauge value documented on the circuit_state collector.
func CircuitStateValue(s state.CircuitState) float64 {
	switch s {
	case state.CircuitClosed:
		return 0
	case state.CircuitHalfOpen:
		return 1
	case state.CircuitOpen:
		return 2
	case state.CircuitPermanentlyUnavailable:
		return 3
	default:
		return -1
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	gateDecisions     *prometheus.CounterVec
	usageResets       prometheus.Counter
	commits           *prometheus.CounterVec
	inferences        *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	billingEvents     *prometheus.CounterVec
	checkoutSessions  *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
}

// NewPrometheus registers the application collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		gateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "macromini",
				Name:      "gate_decisions_total",
				Help:      "Entitlement gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		usageResets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "macromini",
				Name:      "usage_resets_total",
				Help:      "Usage periods rolled over by the gate",
			},
		),
		commits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "macromini",
				Name:      "usage_commits_total",
				Help:      "Analysis count commits by outcome",
			},
			[]string{"outcome"},
		),
		inferences: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "macromini",
				Name:      "inference_requests_total",
				Help:      "Vision model calls by outcome",
			},
			[]string{"outcome"},
		),
		inferenceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "macromini",
				Name:      "inference_duration_seconds",
				Help:      "Vision model call latency",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
		),
		billingEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "macromini",
				Name:      "billing_events_total",
				Help:      "Billing webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		checkoutSessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "macromini",
				Name:      "checkout_sessions_total",
				Help:      "Checkout session requests by outcome",
			},
			[]string{"outcome"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "macromini",
				Name:      "rate_limited_requests_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}
}

func (p *PrometheusRecorder) IncGateDecision(outcome string) {
	p.gateDecisions.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncUsageReset() {
	p.usageResets.Inc()
}

func (p *PrometheusRecorder) IncCommit(outcome string) {
	p.commits.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncInference(outcome string) {
	p.inferences.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveInferenceDuration(duration time.Duration) {
	p.inferenceDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncBillingEvent(eventType, outcome string) {
	p.billingEvents.WithLabelValues(eventType, outcome).Inc()
}

func (p *PrometheusRecorder) IncCheckoutSession(outcome string) {
	p.checkoutSessions.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncRateLimited(route string) {
	p.rateLimited.WithLabelValues(route).Inc()
}

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Recorder = (*Prometheus)(nil)

// Prometheus keeps collectors on a private registry exposed through Handler.
type Prometheus struct {
	registry        *prometheus.Registry
	outcomes        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_outcomes_total",
			Help:      "Processed webhook events by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_processing_seconds",
			Help:      "Time from ledger claim to ledger finalization.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, endpoint and status.",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
	p.registry.MustRegister(p.outcomes, p.latency, p.requests, p.requestDuration)
	return p
}

func (p *Prometheus) RecordOutcome(_ context.Context, eventType, outcome string, duration time.Duration) {
	p.outcomes.WithLabelValues(eventType, outcome).Inc()
	p.latency.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (p *Prometheus) RecordRequest(method, endpoint, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, endpoint, status).Inc()
	p.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

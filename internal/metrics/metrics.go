// Package metrics holds the prometheus collectors exported by the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// Relay outcomes recorded by ObserveRelay.
const (
	OutcomeOK             = "ok"
	OutcomeInvalidInput   = "invalid_input"
	OutcomeUpstreamStatus = "upstream_status"
	OutcomeTransport      = "transport_error"
)

// Metrics groups the collectors behind a private registry.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	relayOutcomes    *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
	upstreamUp       prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 3, 10, 30, 60, 180},
		}, []string{"method", "route"}),
		relayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_outcomes_total",
			Help:      "Chat relay results by outcome.",
		}, []string{"outcome"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of n8n webhook calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 3, 5, 10, 30, 60, 120, 180},
		}),
		upstreamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_up",
			Help:      "1 when the last n8n probe succeeded, 0 otherwise.",
		}),
	}

	m.reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.relayOutcomes,
		m.upstreamDuration,
		m.upstreamUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveRelay records the outcome of one /mensaje call.
func (m *Metrics) ObserveRelay(outcome string) {
	if m == nil {
		return
	}
	m.relayOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records the duration of one webhook call.
func (m *Metrics) ObserveUpstream(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.Observe(elapsed.Seconds())
}

// SetUpstreamUp records the latest probe result.
func (m *Metrics) SetUpstreamUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.upstreamUp.Set(1)
		return
	}
	m.upstreamUp.Set(0)
}

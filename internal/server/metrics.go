package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

type metrics struct {
	registry       *prometheus.Registry
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	sessionsTotal  *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{registry: prometheus.NewRegistry()}

	m.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tweakforge",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Count of processed HTTP requests",
	}, []string{"method", "route", "status"})

	m.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tweakforge",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   histogramBuckets,
	}, []string{"method", "route", "status"})

	m.sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tweakforge",
		Subsystem: "daemon",
		Name:      "sessions_started_total",
		Help:      "Count of accepted build and install triggers",
	}, []string{"kind"})

	m.registry.MustRegister(m.requestTotal, m.requestLatency, m.sessionsTotal)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m *metrics) observeSession(kind string) {
	m.sessionsTotal.With(prometheus.Labels{"kind": kind}).Inc()
}

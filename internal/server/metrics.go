package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of one server on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec   // aperture_requests_total{operation,outcome}
	RequestDuration *prometheus.HistogramVec // aperture_request_duration_seconds{operation}
	TransferBytes   *prometheus.CounterVec   // aperture_transfer_bytes_total{direction}
}

// NewMetrics registers the server metrics and the Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: registry,

		RequestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "aperture_requests_total",
			Help: "Total device requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		RequestDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aperture_request_duration_seconds",
			Help:    "Device request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		TransferBytes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "aperture_transfer_bytes_total",
			Help: "Total file bytes received and sent",
		}, []string{"direction"}),
	}
}

// RecordRequest records one finished request.
func (m *Metrics) RecordRequest(operation, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordTransfer adds n bytes in direction "in" or "out".
func (m *Metrics) RecordTransfer(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TransferBytes.WithLabelValues(direction).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// outcomeFor labels a response status.
func outcomeFor(status int) string {
	switch {
	case status < 400:
		return "ok"
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge:
		return "invalid"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	default:
		return "error"
	}
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the render viewer.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	fullRendersTotal    prometheus.Counter
	previewRendersTotal prometheus.Counter
	renderErrorsTotal   prometheus.Counter
	connectedClients    prometheus.Gauge
	trainingStep        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the viewer.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewer_requests_total",
		Help: "Total number of HTTP requests received",
	})
	fullRendersTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewer_full_renders_total",
		Help: "Total number of full-resolution renders triggered by training updates",
	})
	previewRendersTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewer_preview_renders_total",
		Help: "Total number of preview renders triggered by camera movement",
	})
	renderErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewer_render_errors_total",
		Help: "Total number of render callback or publish failures",
	})
	connectedClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_connected_clients",
		Help: "Number of currently connected viewer clients",
	})
	trainingStep := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_training_step",
		Help: "Last training step reported by the host",
	})

	registry.MustRegister(
		requestsTotal,
		fullRendersTotal,
		previewRendersTotal,
		renderErrorsTotal,
		connectedClients,
		trainingStep,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		fullRendersTotal:    fullRendersTotal,
		previewRendersTotal: previewRendersTotal,
		renderErrorsTotal:   renderErrorsTotal,
		connectedClients:    connectedClients,
		trainingStep:        trainingStep,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncFullRenders increments the full-resolution render counter.
func (m *Metrics) IncFullRenders() {
	m.fullRendersTotal.Inc()
}

// IncPreviewRenders increments the preview render counter.
func (m *Metrics) IncPreviewRenders() {
	m.previewRendersTotal.Inc()
}

// IncRenderErrors increments the render failure counter.
func (m *Metrics) IncRenderErrors() {
	m.renderErrorsTotal.Inc()
}

// SetConnectedClients sets the connected clients gauge.
func (m *Metrics) SetConnectedClients(n int) {
	m.connectedClients.Set(float64(n))
}

// SetTrainingStep sets the training step gauge.
func (m *Metrics) SetTrainingStep(step int) {
	m.trainingStep.Set(float64(step))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// connected clients).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

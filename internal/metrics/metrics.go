// Package metrics exposes Prometheus collectors for workflow runs and
// generation calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promptflow"

// Recorder owns the collectors and the registry they are registered in.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runsActive         prometheus.Gauge
	runDuration        *prometheus.HistogramVec
	stepsTotal         *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generationRetries  *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of workflow runs by final status",
			},
			[]string{"status"},
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of workflow runs currently executing",
			},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of executed steps by outcome",
			},
			[]string{"status", "code"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of generation service calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"generator", "status"},
		),
		generationRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_retries_total",
				Help:      "Total number of retried generation calls",
			},
			[]string{"generator"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
	}

	r.registry.MustRegister(
		r.runsTotal,
		r.runsActive,
		r.runDuration,
		r.stepsTotal,
		r.generationDuration,
		r.generationRetries,
		r.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RunStarted records the start of a run.
func (r *Recorder) RunStarted() {
	if r == nil {
		return
	}
	r.runsActive.Inc()
}

// RunFinished records a run reaching a terminal status.
func (r *Recorder) RunFinished(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.runsActive.Dec()
	r.runsTotal.WithLabelValues(status).Inc()
	r.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

// StepFinished records the outcome of a step. code is empty on success.
func (r *Recorder) StepFinished(status, code string) {
	if r == nil {
		return
	}
	r.stepsTotal.WithLabelValues(status, code).Inc()
}

// Generation records one call to the generation service.
func (r *Recorder) Generation(generator, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.generationDuration.WithLabelValues(generator, status).Observe(d.Seconds())
}

// GenerationRetried records a retried generation call.
func (r *Recorder) GenerationRetried(generator string) {
	if r == nil {
		return
	}
	r.generationRetries.WithLabelValues(generator).Inc()
}

// HTTPRequest records a served HTTP request.
func (r *Recorder) HTTPRequest(method, code string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, code).Inc()
}

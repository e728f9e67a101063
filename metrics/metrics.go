package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recorder, narration,
// poller and generation service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	recordingsStarted   prometheus.Counter
	recordingsCompleted prometheus.Counter
	recordingsFailed    prometheus.Counter
	activeRecordings    prometheus.Gauge
	narrationEntries    prometheus.Counter
	jobPolls            prometheus.Counter
	generationJobs      *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvascast_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvascast_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		recordingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvascast_recordings_started_total",
			Help: "Recording sessions that reached the recording state",
		}),
		recordingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvascast_recordings_completed_total",
			Help: "Recording sessions finalized into an artifact",
		}),
		recordingsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvascast_recordings_failed_total",
			Help: "Recording sessions that failed during setup or mid-recording",
		}),
		activeRecordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canvascast_active_recordings",
			Help: "Recording sessions currently owning capture resources",
		}),
		narrationEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvascast_narration_entries_spoken_total",
			Help: "Narration entries spoken to completion",
		}),
		jobPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvascast_job_polls_total",
			Help: "Remote job status checks performed by the poller",
		}),
		generationJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvascast_generation_jobs_total",
			Help: "Generation jobs that reached a terminal status",
		}, []string{"status"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.recordingsStarted,
		m.recordingsCompleted,
		m.recordingsFailed,
		m.activeRecordings,
		m.narrationEntries,
		m.jobPolls,
		m.generationJobs,
	)
	return m
}

func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// RecordingStarted counts a session entering the recording state.
func (m *Metrics) RecordingStarted() {
	if m != nil {
		m.recordingsStarted.Inc()
		m.activeRecordings.Inc()
	}
}

// RecordingFinished counts a session releasing its resources.
func (m *Metrics) RecordingFinished(failed bool) {
	if m == nil {
		return
	}
	m.activeRecordings.Dec()
	if failed {
		m.recordingsFailed.Inc()
	} else {
		m.recordingsCompleted.Inc()
	}
}

// RecordingSetupFailed counts a session that never reached the recording state.
func (m *Metrics) RecordingSetupFailed() {
	if m != nil {
		m.recordingsFailed.Inc()
	}
}

func (m *Metrics) IncNarrationEntries() {
	if m != nil {
		m.narrationEntries.Inc()
	}
}

func (m *Metrics) IncJobPolls() {
	if m != nil {
		m.jobPolls.Inc()
	}
}

// IncGenerationJobs counts a generation job reaching the given terminal status.
func (m *Metrics) IncGenerationJobs(status string) {
	if m != nil {
		m.generationJobs.WithLabelValues(status).Inc()
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

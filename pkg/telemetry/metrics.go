package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for depletion and recycle runs.
// A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Step metrics
	stepsCompleted     *prometheus.CounterVec
	feedbackIterations prometheus.Histogram
	cyclesCompleted    *prometheus.CounterVec

	// Solver metrics
	solverCalls    *prometheus.CounterVec
	solverDuration *prometheus.HistogramVec
	solverErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Physics gauges
	keff       prometheus.Gauge
	sourceRate prometheus.Gauge
	activeJobs prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"kind"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		stepsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "depletion_steps_total",
				Help:      "Total number of depletion steps completed",
			},
			[]string{"source"},
		),
		feedbackIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feedback_iterations",
				Help:      "Transport/feedback iterations per step",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
			},
		),
		cyclesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recycle_cycles_total",
				Help:      "Total number of recycle cycles completed",
			},
			[]string{"mode"},
		),

		solverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solver_calls_total",
				Help:      "Total number of external solver invocations",
			},
			[]string{"solver"},
		),
		solverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solver_duration_seconds",
				Help:      "Duration of external solver invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"solver"},
		),
		solverErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solver_errors_total",
				Help:      "Total number of failed solver invocations",
			},
			[]string{"solver"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		keff: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "keff",
				Help:      "Multiplication factor of the last transport run",
			},
		),
		sourceRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "source_rate",
				Help:      "Source rate of the last transport run in neutrons per second",
			},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_transmutations",
				Help:      "Current number of running transmutation jobs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepsCompleted,
		m.feedbackIterations,
		m.cyclesCompleted,
		m.solverCalls,
		m.solverDuration,
		m.solverErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.keff,
		m.sourceRate,
		m.activeJobs,
	)

	return m, nil
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(kind string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(kind, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStep records a completed depletion step. source is "computed" or
// "checkpoint".
func (m *Metrics) RecordStep(source string, feedbackIterations int) {
	if m.stepsCompleted == nil {
		return
	}
	m.stepsCompleted.WithLabelValues(source).Inc()
	if feedbackIterations > 0 {
		m.feedbackIterations.Observe(float64(feedbackIterations))
	}
}

// RecordCycle records a completed recycle cycle.
func (m *Metrics) RecordCycle(mode string) {
	if m.cyclesCompleted == nil {
		return
	}
	m.cyclesCompleted.WithLabelValues(mode).Inc()
}

// RecordSolverCall records an external solver invocation.
func (m *Metrics) RecordSolverCall(solver string, duration time.Duration, err error) {
	if m.solverCalls == nil {
		return
	}
	m.solverCalls.WithLabelValues(solver).Inc()
	m.solverDuration.WithLabelValues(solver).Observe(duration.Seconds())
	if err != nil {
		m.solverErrors.WithLabelValues(solver).Inc()
	}
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// SetEigenvalue records the latest keff and source rate.
func (m *Metrics) SetEigenvalue(keff, sourceRate float64) {
	if m.keff == nil {
		return
	}
	m.keff.Set(keff)
	m.sourceRate.Set(sourceRate)
}

// TransmutationStarted marks a transmutation job as running.
func (m *Metrics) TransmutationStarted() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Inc()
}

// TransmutationDone marks a transmutation job as finished.
func (m *Metrics) TransmutationDone() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Dec()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer exposes the registry over HTTP when a listen address
// is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}

// String summarizes the configuration for startup logs.
func (m *Metrics) String() string {
	if !m.config.Enabled {
		return "metrics disabled"
	}
	if m.config.ListenAddress == "" {
		return "metrics in process"
	}
	return fmt.Sprintf("metrics on %s%s", m.config.ListenAddress, m.config.Path)
}

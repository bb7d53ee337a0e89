package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for wgforge. All record methods are
// no-ops when metrics are disabled or the receiver is nil.
type Metrics struct {
	config MetricsConfig

	// Deployment metrics
	deploysStarted   *prometheus.CounterVec
	deploysCompleted *prometheus.CounterVec
	deployDuration   *prometheus.HistogramVec

	// Teardown metrics
	teardownsStarted   *prometheus.CounterVec
	teardownsCompleted *prometheus.CounterVec

	// Pipeline step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Provider API metrics
	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec

	// Scheduler metrics
	autoDestroys *prometheus.CounterVec

	// Tunnel metrics
	tunnelConnected prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploysStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_started_total",
				Help:      "Total number of deployments started",
			},
			[]string{"provider"},
		),
		deploysCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_completed_total",
				Help:      "Total number of deployments completed",
			},
			[]string{"provider", "status"},
		),
		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_seconds",
				Help:      "Duration of full deployments in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "status"},
		),

		teardownsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "teardowns_started_total",
				Help:      "Total number of teardowns started",
			},
			[]string{"provider"},
		),
		teardownsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "teardowns_completed_total",
				Help:      "Total number of teardowns completed",
			},
			[]string{"provider", "status"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of pipeline steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider API calls",
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider API errors",
			},
			[]string{"provider", "operation"},
		),

		autoDestroys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auto_destroys_total",
				Help:      "Total number of scheduler-triggered destroys",
			},
			[]string{"status"},
		),

		tunnelConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tunnel_connected",
				Help:      "Whether the local tunnel is connected (1) or not (0)",
			},
		),
	}

	registry.MustRegister(
		m.deploysStarted,
		m.deploysCompleted,
		m.deployDuration,
		m.teardownsStarted,
		m.teardownsCompleted,
		m.stepsExecuted,
		m.stepDuration,
		m.providerCalls,
		m.providerErrors,
		m.autoDestroys,
		m.tunnelConnected,
	)

	return m, nil
}

// RecordDeployStarted increments the counter for started deployments.
func (m *Metrics) RecordDeployStarted(provider string) {
	if m == nil || m.deploysStarted == nil {
		return
	}
	m.deploysStarted.WithLabelValues(provider).Inc()
}

// RecordDeployCompleted records a finished deployment with its outcome.
func (m *Metrics) RecordDeployCompleted(provider, status string, duration time.Duration) {
	if m == nil || m.deploysCompleted == nil {
		return
	}
	m.deploysCompleted.WithLabelValues(provider, status).Inc()
	m.deployDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// RecordTeardownStarted increments the counter for started teardowns.
func (m *Metrics) RecordTeardownStarted(provider string) {
	if m == nil || m.teardownsStarted == nil {
		return
	}
	m.teardownsStarted.WithLabelValues(provider).Inc()
}

// RecordTeardownCompleted records a finished teardown with its outcome.
func (m *Metrics) RecordTeardownCompleted(provider, status string) {
	if m == nil || m.teardownsCompleted == nil {
		return
	}
	m.teardownsCompleted.WithLabelValues(provider, status).Inc()
}

// RecordStep records the execution of a single pipeline step.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m == nil || m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordProviderCall records a provider API call.
func (m *Metrics) RecordProviderCall(provider, operation string) {
	if m == nil || m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
}

// RecordProviderError records a provider API error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m == nil || m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// RecordAutoDestroy records a scheduler-triggered destroy attempt.
func (m *Metrics) RecordAutoDestroy(status string) {
	if m == nil || m.autoDestroys == nil {
		return
	}
	m.autoDestroys.WithLabelValues(status).Inc()
}

// SetTunnelConnected sets the tunnel connection gauge.
func (m *Metrics) SetTunnelConnected(connected bool) {
	if m == nil || m.tunnelConnected == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.tunnelConnected.Set(value)
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

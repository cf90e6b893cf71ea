// Package metrics provides metrics collection capabilities for the application.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metrics collectors for the application.
type Metrics struct {
	// Registry is the Prometheus registry for all metrics.
	Registry *prometheus.Registry

	// Common metrics
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RequestInFlight    *prometheus.GaugeVec
	ErrorCount         *prometheus.CounterVec
	ServiceUptime      prometheus.Gauge
	ServiceLastStarted prometheus.Gauge

	// Job pipeline metrics
	JobsProcessed   *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobsInFlight    prometheus.Gauge
	QueueDepth      *prometheus.GaugeVec
	ResponsesSent   *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge
	SyncWaitTimeout prometheus.Counter
}

// Config holds the configuration for metrics.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics.
	Namespace string
	// Subsystem is the Prometheus subsystem for all metrics.
	Subsystem string
	// ServiceName is the name of the service that is collecting metrics.
	ServiceName string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:   "reya",
		Subsystem:   "",
		ServiceName: "reya-workers",
	}
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,

		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_total",
				Help:      "Total number of requests received",
			},
			[]string{"service", "method", "path", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method", "path"},
		),

		RequestInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_in_flight",
				Help:      "Current number of requests being processed",
			},
			[]string{"service"},
		),

		ErrorCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type", "code"},
		),

		ServiceUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "service_uptime_seconds",
				Help:      "Service uptime in seconds",
				ConstLabels: prometheus.Labels{
					"service": cfg.ServiceName,
				},
			},
		),

		ServiceLastStarted: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "service_last_started_timestamp",
				Help:      "Timestamp when the service was last started",
				ConstLabels: prometheus.Labels{
					"service": cfg.ServiceName,
				},
			},
		),

		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total number of trade jobs processed by outcome",
			},
			[]string{"outcome"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "job_duration_seconds",
				Help:      "Trade job processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		JobsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "jobs_in_flight",
				Help:      "Current number of trade jobs being processed",
			},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "queue_depth",
				Help:      "Current number of jobs per queue state",
			},
			[]string{"state"},
		),

		ResponsesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "responses_sent_total",
				Help:      "Total number of progress events emitted by type",
			},
			[]string{"type"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "active_streams",
				Help:      "Current number of open progress stream connections",
			},
		),

		SyncWaitTimeout: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sync_wait_timeouts_total",
				Help:      "Total number of synchronous waits that hit the timeout bound",
			},
		),
	}

	return m
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordUptime starts a goroutine updating the uptime gauge every 15 seconds
// until done is closed.
func (m *Metrics) RecordUptime(done <-chan struct{}) {
	start := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.ServiceUptime.Set(time.Since(start).Seconds())
			}
		}
	}()
}

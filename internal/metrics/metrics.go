// Package metrics exposes pipeline counters through a private Prometheus
// registry.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockpile/internal/logging"
	"stockpile/internal/retry"
)

const namespace = "stockpile"

// Metrics records job and retry activity. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	jobsCreated   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	retryAttempts *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Jobs created by ingestion source.",
		}, []string{"source"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"outcome"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Attempts made under each retry policy by result.",
		}, []string{"policy", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent executing a stage.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage", "result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed.",
		}),
	}
	m.registry.MustRegister(
		m.jobsCreated,
		m.jobsFinished,
		m.retryAttempts,
		m.stageDuration,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// JobCreated counts a new job.
func (m *Metrics) JobCreated(source string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(source).Inc()
}

// JobFinished counts a terminal job.
func (m *Metrics) JobFinished(outcome string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(outcome).Inc()
}

// ObserveAttempt satisfies retry.Observer.
func (m *Metrics) ObserveAttempt(policy string, outcome retry.Outcome) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(policy, string(outcome)).Inc()
}

// StageFinished records how long one stage took.
func (m *Metrics) StageFinished(stage, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}

// SetInFlight updates the in-flight gauge.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes the metrics handler on bind until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, bind, path string, logger *slog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", logging.String("bind", bind), logging.String("path", path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

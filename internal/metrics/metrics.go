// Package metrics exposes ingestion and aggregation counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatstat"

// Ingestion stages tracked by the messages counter.
const (
	StageScanned    = "scanned"
	StageAccepted   = "accepted"
	StageInserted   = "inserted"
	StageOutOfRange = "out_of_range"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messages         *prometheus.CounterVec
	batches          prometheus.Counter
	rateLimitWaits   prometheus.Counter
	rateLimitSeconds prometheus.Counter
	aggregation      *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages processed by the ingestion controller, by stage.",
		}, []string{"stage"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_committed_total",
			Help:      "Batches committed to the message store.",
		}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rate_limit_waits_total",
			Help:      "Rate-limit signals honored by the ingestion controller.",
		}),
		rateLimitSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Total time spent waiting out rate limits.",
		}),
		aggregation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "aggregation_duration_seconds",
			Help:      "Time spent computing statistics, by scope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
	}

	m.registry.MustRegister(
		m.messages,
		m.batches,
		m.rateLimitWaits,
		m.rateLimitSeconds,
		m.aggregation,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// AddMessages increments the messages counter for stage.
func (m *Metrics) AddMessages(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messages.WithLabelValues(stage).Add(float64(n))
}

// BatchCommitted counts one committed batch.
func (m *Metrics) BatchCommitted() {
	if m == nil {
		return
	}
	m.batches.Inc()
}

// RateLimited records one rate-limit wait of duration d.
func (m *Metrics) RateLimited(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
	m.rateLimitSeconds.Add(d.Seconds())
}

// ObserveAggregation records how long an aggregation of scope took.
func (m *Metrics) ObserveAggregation(scope string, d time.Duration) {
	if m == nil {
		return
	}
	m.aggregation.WithLabelValues(scope).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnContext(ctx, "Metrics server shutdown failed", "error", err)
		}
		logger.InfoContext(ctx, "Metrics server stopped")
		return nil
	}
}

// Package metrics exposes engine counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "explainit"

const readHeaderTimeout = 10 * time.Second

// Metrics holds the engine counters on a private registry so concurrent
// engines in one process and tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	nodes            *prometheus.CounterVec
	attemptFailures  *prometheus.CounterVec
	revisions        prometheus.Counter
	redecompositions prometheus.Counter
	duplicates       *prometheus.CounterVec
}

// New creates and registers the engine counters.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_total",
			Help:      "Concept nodes settled, by final status",
		}, []string{"status"}),
		attemptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempt_failures_total",
			Help:      "Failed provider call attempts, by operation and error kind",
		}, []string{"operation", "kind"}),
		revisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_total",
			Help:      "Explanation revisions requested after critique",
		}),
		redecompositions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redecompositions_total",
			Help:      "Decompositions replaced after validation",
		}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_filtered_total",
			Help:      "Child concepts dropped as duplicates, by rule",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.nodes,
		m.attemptFailures,
		m.revisions,
		m.redecompositions,
		m.duplicates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NodeSettled counts a node reaching a final status.
func (m *Metrics) NodeSettled(status string) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(status).Inc()
}

// AttemptFailed counts one failed provider attempt.
func (m *Metrics) AttemptFailed(operation, kind string) {
	if m == nil {
		return
	}
	m.attemptFailures.WithLabelValues(operation, kind).Inc()
}

// Revised counts one revision.
func (m *Metrics) Revised() {
	if m == nil {
		return
	}
	m.revisions.Inc()
}

// Redecomposed counts one replaced decomposition.
func (m *Metrics) Redecomposed() {
	if m == nil {
		return
	}
	m.redecompositions.Inc()
}

// DuplicateFiltered counts a dropped child concept.
func (m *Metrics) DuplicateFiltered(reason string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Package metrics exposes pipeline counters and latencies over Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pivox_decisions_total",
		Help: "Decisions produced, labelled by symbol and outcome",
	}, []string{"symbol", "outcome"})

	GuardFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pivox_guard_failures_total",
		Help: "Guard failures, labelled by guard name",
	}, []string{"guard"})

	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pivox_state_transitions_total",
		Help: "Execution state machine transitions, labelled by target state",
	}, []string{"to"})

	DecisionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pivox_decision_latency_seconds",
		Help:    "Wall time of one full decision run",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"symbol"})

	FeedUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pivox_feed_updates_total",
		Help: "Websocket market data updates applied, labelled by stream",
	}, []string{"stream"})
)

// ObserveDecision records one completed decision run.
func ObserveDecision(symbol, outcome string, elapsed time.Duration) {
	DecisionsTotal.WithLabelValues(symbol, outcome).Inc()
	DecisionLatency.WithLabelValues(symbol).Observe(elapsed.Seconds())
}

// Server exposes /metrics and /health on a dedicated listener.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server bound to the given port.
func NewServer(port int, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With(slog.String("component", "metrics")),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("metrics server started", slog.String("addr", s.srv.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Package metrics holds the Prometheus collectors of the bridge and the HTTP
// endpoint that exposes them.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ProtocolFramed = "framed"
	ProtocolLSP    = "lsp"

	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

var (
	// Requests counts dispatched requests by protocol, method and outcome.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ijaas_requests_total",
		Help: "Total requests by protocol, method and outcome",
	}, []string{"protocol", "method", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ijaas_request_duration_seconds",
		Help:    "Request handling duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	}, []string{"protocol", "method"})

	Timeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ijaas_request_timeouts_total",
		Help: "Requests that exceeded the handler timeout",
	}, []string{"method"})

	DiagnosticsRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ijaas_diagnostics_runs_total",
		Help: "Diagnostics runs by outcome",
	}, []string{"outcome"})

	OpenDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ijaas_open_documents",
		Help: "Documents currently open across all connections",
	})

	Connections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ijaas_connections_total",
		Help: "Accepted connections by protocol",
	}, []string{"protocol"})
)

// Observe records one finished request.
func Observe(protocol, method, outcome string, started time.Time) {
	Requests.WithLabelValues(protocol, method, outcome).Inc()
	RequestDuration.WithLabelValues(protocol, method).Observe(time.Since(started).Seconds())
	if outcome == OutcomeTimeout {
		Timeouts.WithLabelValues(method).Inc()
	}
}

// Serve exposes the default registry on addr until ctx is done.
func Serve(ctx context.Context, log logr.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("serving metrics", "address", l.Addr().String())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "error shutting down metrics server")
		}
	}()
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

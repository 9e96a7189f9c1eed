package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openmcp",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openmcp",
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openmcp",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	resolverOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openmcp",
		Name:      "resolver_outcomes_total",
		Help:      "Resolved intents partitioned by action and resulting state.",
	}, []string{"action", "state"})

	ledgerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openmcp",
		Name:      "ledger_call_duration_seconds",
		Help:      "Latency of ledger JSON-RPC calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "outcome"})

	executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openmcp",
		Name:      "executions_total",
		Help:      "Transaction executions partitioned by mode and success.",
	}, []string{"mode", "success"})
)

func init() {
	registry.MustRegister(httpRequests, httpErrors, httpLatency, resolverOutcomes, ledgerLatency, executions)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveResolution counts one resolver outcome.
func ObserveResolution(action, state string) {
	resolverOutcomes.WithLabelValues(action, state).Inc()
}

// ObserveLedgerCall records the latency of one JSON-RPC method call.
func ObserveLedgerCall(method string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ledgerLatency.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

// ObserveExecution counts one dispatcher execution.
func ObserveExecution(mode string, success bool) {
	executions.WithLabelValues(mode, strconv.FormatBool(success)).Inc()
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

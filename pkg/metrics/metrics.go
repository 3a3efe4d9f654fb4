// Package metrics exposes the exporter's Prometheus metrics over HTTP.
// Metrics are defined in their respective packages (client, cache,
// pagination, progress) via promauto to avoid circular dependencies.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry and Gatherer are the default Prometheus registry used by the
// exporter. All metrics are registered via promauto in their respective packages.
var (
	Registry prometheus.Registerer = prometheus.DefaultRegisterer
	Gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
)

// Path is where metrics are served.
const Path = "/metrics"

// Handler returns the /metrics handler for Gatherer, instrumented on Registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Server serves Handler on an address for the duration of an export run.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and starts serving in the background. Use ":0" for a
// random port; Addr reports the bound address.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - almexport_requests_total{endpoint, status} (Counter): ALM requests by endpoint and HTTP status
//   - almexport_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - almexport_errors_total{class} (Counter): Errors by class (client, auth, server, network)
//
// Paging Metrics (pkg/pagination):
//   - almexport_pages_total{result} (Counter): Pages by result (ok, failed)
//   - almexport_rows_mapped_total (Counter): Test records mapped into rows
//   - almexport_export_duration_seconds (Histogram): Duration of a full paginated fetch
//
// Progress Metrics (pkg/progress):
//   - almexport_progress_ratio (Gauge): Completion ratio of the running export
//
// Cache Metrics (pkg/cache):
//   - almexport_cache_hits_total (Counter): Page cache hits
//   - almexport_cache_misses_total (Counter): Page cache misses
//   - almexport_cache_size_bytes (Gauge): Bytes written to the page cache
//   - almexport_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Failed page ratio
//   sum(almexport_pages_total{result="failed"}) / sum(almexport_pages_total)
//
//   # Cache Hit Rate
//   sum(rate(almexport_cache_hits_total[5m])) /
//   (sum(rate(almexport_cache_hits_total[5m])) + sum(rate(almexport_cache_misses_total[5m])))
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(almexport_request_duration_seconds_bucket{endpoint="tests-page"}[5m]))

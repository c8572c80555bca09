// Package httpapi is the thin JSON binding of the Control Facade named in
// SPEC_FULL.md §4.11, grounded on adnanabbasy-ComX-Bridge's pkg/api/rest
// package (gorilla/mux router, /metrics via promhttp.Handler, a Start/Stop
// pair wrapping an *http.Server).
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingsmith/ftms-bridge/internal/facade"
)

// Server is the HTTP control surface binding a facade.Facade onto
// gorilla/mux routes plus /metrics.
type Server struct {
	facade *facade.Facade
	logger *slog.Logger
	srv    *http.Server
}

// New builds a Server listening on addr once Start is called. reg is the
// same registry passed to metrics.New so /metrics serves the bridge's own
// counters and gauges rather than the package-global default gatherer; pass
// prometheus.NewRegistry() in tests.
func New(f *facade.Facade, addr string, logger *slog.Logger, reg *prometheus.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{facade: f, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/scan", s.handleScan).Methods(http.MethodPost)
	router.HandleFunc("/v1/connect", s.handleConnect).Methods(http.MethodPost)
	router.HandleFunc("/v1/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	router.HandleFunc("/v1/bridge/start", s.handleBridgeStart).Methods(http.MethodPost)
	router.HandleFunc("/v1/bridge/stop", s.handleBridgeStop).Methods(http.MethodPost)
	router.HandleFunc("/v1/shutdown", s.handleShutdown).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.srv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Start begins serving in a background goroutine, logging a non-graceful
// error if the listener fails for a reason other than Stop.
func (s *Server) Start() error {
	s.logger.Info("http control surface listening", "addr", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down within ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

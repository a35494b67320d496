package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqttgov/proxy/internal/logger"
)

// ComponentHealth is one component's entry in /health/detailed.
type ComponentHealth struct {
	State          string `json:"state"`
	LastError      string `json:"last_error,omitempty"`
	LastTransition string `json:"last_transition,omitempty"`
}

// HealthReporter supplies the detailed health breakdown. The caller passes
// it to NewServer; with a nil reporter /health/detailed returns an empty
// object. /health always answers 200 and does not consult the reporter.
type HealthReporter func() map[string]ComponentHealth

// Server exposes /metrics, /health and /health/detailed over HTTP, with
// the same ListenAndServe/Close lifecycle as the proxy's other network
// components, routed through go-chi/chi.
type Server struct {
	lg     logger.Logger
	addr   string
	router *chi.Mux
	srv    *http.Server
}

// NewServer builds a Server bound to addr, serving reg's metrics and
// calling report for the detailed health endpoint.
func NewServer(addr string, metricsPath string, gatherer prometheus.Gatherer, lg logger.Logger, report HealthReporter) *Server {
	if lg == nil {
		lg = logger.Null
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := chi.NewRouter()
	r.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/health/detailed", func(w http.ResponseWriter, req *http.Request) {
		components := map[string]ComponentHealth{}
		if report != nil {
			components = report()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(components)
	})

	return &Server{
		lg:     lg,
		addr:   addr,
		router: r,
		srv:    &http.Server{Addr: addr, Handler: r},
	}
}

// Addr returns the server's bind address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe starts the server in the background.
func (s *Server) ListenAndServe() error {
	s.lg.Printf("metrics server listening on %s", s.addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.lg.WithError(err).Fatalf("metrics server: listen and serve")
		}
	}()
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	s.lg.Println("shutting down metrics server...")
	return s.srv.Shutdown(context.Background())
}

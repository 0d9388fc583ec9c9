// Package diagnostics hosts the process health and metrics listener. It
// carries no business operations; callers drive the pipeline through the
// management facade, while this server only answers cluster probes and
// Prometheus scrapes.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/config"
)

const (
	STATUS_HEALTHY  = "healthy"
	STATUS_DEGRADED = "degraded"

	// storagePingTimeout bounds the health probe so a wedged database
	// cannot stall the probe past the kubelet timeout.
	storagePingTimeout = 5 * time.Second
)

// HealthResponse is the body served on /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Build     string    `json:"build,omitempty"`
	BuildDate string    `json:"build_date,omitempty"`
}

type Server struct {
	httpServer *http.Server
	port       int
	logger     *slog.Logger
	conf       *config.Config
	storage    abstractions.Storage
}

// NewServer creates the diagnostics listener. The routes are deliberately
// tiny: /healthz pings the storage and /metrics serves the Prometheus
// registry. Everything else answers 404.
func NewServer(logger *slog.Logger, conf *config.Config, storage abstractions.Storage) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for the diagnostics server")
	}
	if conf == nil {
		return nil, fmt.Errorf("service config is required for the diagnostics server")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage is required for the diagnostics server")
	}

	return &Server{
		port:    conf.Service.Port,
		logger:  logger,
		conf:    conf,
		storage: storage,
	}, nil
}

func (s *Server) GetPort() int {
	return s.port
}

func (s *Server) setupRoutes() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.handleHealth(w)
		default:
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	router.Handle("/metrics", promhttp.Handler())

	return router
}

// SetupRoutes exposes the route setup for testing
func (s *Server) SetupRoutes() http.Handler {
	return s.setupRoutes()
}

// handleHealth reports healthy only while the run history storage answers a
// ping. The ping error may carry datasource details, so it goes to the log
// rather than the response body.
func (s *Server) handleHealth(w http.ResponseWriter) {
	health := HealthResponse{
		Status:    STATUS_HEALTHY,
		Timestamp: time.Now().UTC(),
		Build:     s.conf.Service.Build,
		BuildDate: s.conf.Service.BuildDate,
	}
	status := http.StatusOK

	if err := s.storage.Ping(storagePingTimeout); err != nil {
		s.logger.Warn("Health probe storage ping failed",
			"datasource", s.storage.GetDatasourceName(), "error", err.Error())
		health.Status = STATUS_DEGRADED
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Error("Failed to write the health response", "error", err.Error())
	}
}

// Start writes the ready file and serves until Shutdown or a listener error.
// It returns http.ErrServerClosed after a graceful Shutdown, matching the
// net/http contract.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.setupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Writing the server ready message", "file", s.conf.Service.ReadyFile)
	if err := SetReady(s.conf, s.logger); err != nil {
		return err
	}

	s.logger.Info("Diagnostics server starting", "port", s.port)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down diagnostics server...")
	return s.httpServer.Shutdown(ctx)
}

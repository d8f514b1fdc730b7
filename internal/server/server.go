// Package server provides the optional read-only HTTP surface of powerwatch:
// liveness and readiness probes, Prometheus metrics, and device status.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/HerbHall/powerwatch/internal/status"
	"github.com/HerbHall/powerwatch/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DeviceSource provides device status to the API.
// Defined here (consumer-side) rather than importing the concrete tracker.
type DeviceSource interface {
	List() []status.DeviceStatus
	Get(name string) (status.DeviceStatus, bool)
}

// ReadinessChecker verifies that the daemon is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// RouteRegistrar lets other packages mount routes without import cycles.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Options configures a Server. Registry defaults to a fresh registry; pass
// the one the metrics collector uses so /metrics exposes it.
type Options struct {
	Addr     string
	Devices  DeviceSource
	Ready    ReadinessChecker
	Registry *prometheus.Registry
	Logger   *zap.Logger
	Routes   []RouteRegistrar
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	devices    DeviceSource
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
	registry   *prometheus.Registry
}

// New creates a Server with middleware and routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		devices:  opts.Devices,
		logger:   logger,
		mux:      http.NewServeMux(),
		ready:    opts.Ready,
		registry: reg,
	}

	s.registerRoutes()
	for _, r := range opts.Routes {
		r.RegisterRoutes(s.mux)
	}

	skip := []string{"/healthz", "/readyz", "/metrics"}

	// Middleware chain: outermost listed first.
	handler := Chain(s.mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, newHTTPMetrics(reg), skip),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(20, 40, skip),
	)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	// Versioned API endpoints.
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/v1/devices/{name}", s.handleGetDevice)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz is a liveness probe: 200 while the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Devices int               `json:"devices"`
	Version map[string]string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	n := 0
	if s.devices != nil {
		n = len(s.devices.List())
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "powerwatch",
		Devices: n,
		Version: version.Map(),
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	list := []status.DeviceStatus{}
	if s.devices != nil {
		list = s.devices.List()
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		problem(w, r, http.StatusBadRequest, "device name is required")
		return
	}
	var (
		d  status.DeviceStatus
		ok bool
	)
	if s.devices != nil {
		d, ok = s.devices.Get(name)
	}
	if !ok {
		problem(w, r, http.StatusNotFound, fmt.Sprintf("device %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

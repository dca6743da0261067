// Package api provides the HTTP server for the content gateway.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidestore/tidestore/internal/api/handlers"
	"github.com/tidestore/tidestore/internal/api/health"
	"github.com/tidestore/tidestore/internal/api/middleware"
	"github.com/tidestore/tidestore/pkg/config"
)

// Version is the current version of the gateway.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the gateway HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	config     *config.Config
	logger     *slog.Logger
}

// Deps are the wired components the server routes to.
type Deps struct {
	Gate     *middleware.Gate
	Content  *handlers.ContentHandler
	Secrets  *handlers.SecretsHandler
	Checker  *health.Checker
	Registry *prometheus.Registry
}

// NewServer creates the gateway server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		logger: logger,
	}

	s.setupRouter(deps)
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter(deps Deps) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	// Probes and metrics bypass the gate entirely.
	r.Get("/healthz", deps.Checker.Liveness)
	r.Get("/readyz", deps.Checker.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	// Content downloads admit anonymous callers under the IP tiers.
	// No request timeout here; transfers may legitimately run for a long
	// time and are bounded by client disconnect instead.
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Public)
		r.Get("/content/{address}", deps.Content.Get)
		r.Head("/content/{address}", deps.Content.Head)
	})

	// The secret lifecycle surface requires a credential.
	r.Route("/v1/secrets", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))
		r.Use(deps.Gate.Protect)
		r.Post("/", deps.Secrets.Create)
		r.Get("/", deps.Secrets.List)
		r.Delete("/{id}", deps.Secrets.Revoke)
		r.Get("/{id}/usage", deps.Secrets.Usage)
	})

	s.router = r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting gateway server", "addr", addr, "version", Version)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server, letting in-flight transfers
// finish until the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down gateway server")
	return s.httpServer.Shutdown(ctx)
}

// Name returns the component name for shutdown logging.
func (s *Server) Name() string { return "http-server" }

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

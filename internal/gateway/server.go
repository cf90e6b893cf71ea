// Package gateway is the HTTP submission surface. It validates trade
// requests, persists the initial record, enqueues the job, and delivers the
// outcome either synchronously with a bounded wait or over a progress stream
// driven by the relay.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/internal/relay"
	"github.com/sauliuspr-reya/reya-workers/internal/store"
	"github.com/sauliuspr-reya/reya-workers/pkg/config"
	"github.com/sauliuspr-reya/reya-workers/pkg/health"
	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
	"github.com/sauliuspr-reya/reya-workers/pkg/metrics"
)

// Server represents the gateway HTTP server.
type Server struct {
	config         *config.Config
	router         *chi.Mux
	store          store.Store
	producer       queue.Producer
	relay          *relay.Relay
	server         *http.Server
	logger         *logging.Logger
	metrics        *metrics.Metrics
	healthRegistry *health.Registry
}

// NewServer wires the gateway together.
func NewServer(cfg *config.Config, st store.Store, producer queue.Producer,
	rly *relay.Relay, logger *logging.Logger, m *metrics.Metrics,
	healthRegistry *health.Registry) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:         cfg,
		router:         r,
		store:          st,
		producer:       producer,
		relay:          rly,
		logger:         logger,
		metrics:        m,
		healthRegistry: healthRegistry,
		server: &http.Server{
			Addr:    ":" + cfg.API.Port,
			Handler: r,
		},
	}

	rly.OnCount = func(n int) {
		m.ActiveStreams.Set(float64(n))
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogging(s.logger))
	s.router.Use(MetricsMiddleware(s.metrics, "gateway"))
	s.router.Use(RecovererWithMetrics(s.logger, s.metrics, "gateway"))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.API.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Use(httprate.LimitByIP(100, 1*time.Minute))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Post("/trade", s.handleSubmitTrade)
	s.router.Get("/trade/{txID}", s.handleGetTrade)
	s.router.Get("/monitor", s.handleMonitor)

	s.router.Get("/health", s.healthRegistry.Handler().ServeHTTP)
	s.router.Get("/metrics", s.metrics.Handler().ServeHTTP)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() {
	s.logger.Info("Starting gateway server", "port", s.config.API.Port)

	s.metrics.ServiceLastStarted.Set(float64(time.Now().Unix()))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Error starting server", "error", err)
	}
}

// Shutdown gracefully shuts down the server, then tears down any open
// progress streams.
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Shutting down gateway server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", "error", err)
	}
	s.relay.Shutdown()
	s.logger.Info("Gateway server shutdown complete")
}

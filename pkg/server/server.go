package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arblens/core/internal/config"
	"github.com/arblens/core/pkg/handlers/arbitrage"
	"github.com/arblens/core/pkg/handlers/health"
	"github.com/arblens/core/pkg/handlers/odds"
	"github.com/arblens/core/pkg/handlers/refresh"
	"github.com/arblens/core/pkg/handlers/sports"
	"github.com/arblens/core/pkg/handlers/status"
	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/middleware"
	"github.com/arblens/core/pkg/oddsapi"
	"github.com/arblens/core/pkg/scheduler"
	"github.com/arblens/core/pkg/services"
	"github.com/arblens/core/pkg/store"
)

// Server represents the API server
type Server struct {
	router     *http.ServeMux
	httpServer *http.Server
	logger     *logger.Logger
	handlers   struct {
		health    *health.Handler
		sports    *sports.Handler
		odds      *odds.Handler
		arbitrage *arbitrage.Handler
		refresh   *refresh.Handler
		status    *status.Handler
	}
}

// New creates a new server instance around the shared pipeline components.
func New(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, sportService *services.SportService, feed *oddsapi.Client, log *logger.Logger) *Server {
	server := &Server{
		router: http.NewServeMux(),
		logger: log,
	}

	// Initialize handlers
	server.handlers.health = health.NewHandler(log)
	server.handlers.sports = sports.NewHandler(sportService, log)
	server.handlers.odds = odds.NewHandler(st, log)
	server.handlers.arbitrage = arbitrage.NewHandler(st, log)
	server.handlers.refresh = refresh.NewHandler(sched, log)
	server.handlers.status = status.NewHandler(cfg, sched, feed, st, log)

	// Setup routes
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", middleware.CORS(s.handlers.health.HealthCheck))

	// Service banner; the mux sends every unmatched path here too
	s.router.HandleFunc("/", middleware.CORS(s.handlers.health.Info))

	// Arbitrage endpoints
	s.router.HandleFunc("/api/arbitrage", middleware.CORS(s.handlers.arbitrage.Current))
	s.router.HandleFunc("/api/arbitrage/history", middleware.CORS(s.handlers.arbitrage.History))

	// Odds endpoints
	s.router.HandleFunc("/api/odds", middleware.CORS(s.handlers.odds.Latest))

	// Control endpoints
	s.router.HandleFunc("/api/refresh", middleware.CORS(s.handlers.refresh.Trigger))
	s.router.HandleFunc("/api/status", middleware.CORS(s.handlers.status.Status))

	// Sports endpoints
	s.router.HandleFunc("/api/sports", middleware.CORS(s.handlers.sports.List))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info().
		Str("action", "server_start").
		Str("addr", s.httpServer.Addr).
		Msg("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed on %s: %w", s.httpServer.Addr, err)
	}

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().
		Str("action", "server_shutdown").
		Msg("Shutting down API server")

	return s.httpServer.Shutdown(ctx)
}

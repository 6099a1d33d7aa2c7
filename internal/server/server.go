package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/server/handler"
	"github.com/coverbound/triggerd/internal/server/middleware"
	"github.com/coverbound/triggerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	APIToken    string   // if empty, authentication is disabled
	CORSOrigins []string // empty allows all origins
	// RateLimitPerMin caps requests per client IP per minute; zero
	// disables throttling. Requires a RateLimiter.
	RateLimitPerMin int
	RateLimiter     domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Triggers *handler.TriggerHandler
	Oracle   *handler.OracleHandler
}

// Server is the headless HTTP + WebSocket API server for the trigger
// service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Trigger endpoints.
	mux.HandleFunc("GET /api/triggers", handlers.Triggers.ListTriggers)
	mux.HandleFunc("GET /api/triggers/{id}", handlers.Triggers.GetTrigger)
	mux.HandleFunc("GET /api/triggers/{id}/transitions", handlers.Triggers.ListTransitions)
	mux.HandleFunc("GET /api/triggers/{id}/settlements", handlers.Triggers.ListSettlements)
	mux.HandleFunc("POST /api/triggers/{id}/poke", handlers.Triggers.PokeSettlement)

	// Embedded oracle endpoints.
	mux.HandleFunc("POST /api/oracle/propose", handlers.Oracle.Propose)
	mux.HandleFunc("POST /api/oracle/dispute", handlers.Oracle.Dispute)
	mux.HandleFunc("POST /api/oracle/resolve", handlers.Oracle.Resolve)
	mux.HandleFunc("POST /api/token/mint", handlers.Oracle.Mint)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply per-client rate limiting (skips if disabled).
	if cfg.RateLimiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

	// Apply auth middleware (skips if APIToken is empty).
	h = middleware.Auth(cfg.APIToken)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

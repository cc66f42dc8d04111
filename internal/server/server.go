// Package server exposes the HTTP API: challenge state and evaluation,
// pre-trade validation, fill recording, outage state and cron triggers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/server/handler"
	"github.com/alanyoungcy/propdesk/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects the general API; empty disables that check.
	APIKey string
	// CronSecret protects the cron endpoints. Unlike APIKey, leaving it
	// empty rejects every cron call rather than opening them up.
	CronSecret string
	// RateLimit is requests per client IP per RateWindow; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Challenges *handler.ChallengeHandler
	Trades     *handler.TradeHandler
	Outages    *handler.OutageHandler
	Cron       *handler.CronHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. The cron
// routes carry their own auth layer on top of the general one, so they
// return 401 before any job code runs even when APIKey is unset.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Challenge endpoints.
	mux.HandleFunc("GET /api/challenges/{id}", handlers.Challenges.GetChallenge)
	mux.HandleFunc("GET /api/challenges/{id}/summary", handlers.Challenges.Summary)
	mux.HandleFunc("GET /api/challenges/{id}/positions", handlers.Challenges.Positions)
	mux.HandleFunc("POST /api/challenges/{id}/evaluate", handlers.Challenges.Evaluate)

	// Trade endpoints.
	mux.HandleFunc("POST /api/trades/validate", handlers.Trades.Validate)
	mux.HandleFunc("POST /api/trades/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/trades/sell", handlers.Trades.Sell)

	// Outage state and history.
	mux.HandleFunc("GET /api/outages", handlers.Outages.List)
	mux.HandleFunc("GET /api/outages/current", handlers.Outages.Current)

	// Cron triggers, behind their own shared secret.
	cronAuth := middleware.CronAuth(cfg.CronSecret)
	mux.Handle("POST /api/cron/sweep", cronAuth(http.HandlerFunc(handlers.Cron.Sweep)))
	mux.Handle("POST /api/cron/daily-reset", cronAuth(http.HandlerFunc(handlers.Cron.DailyReset)))
	mux.Handle("POST /api/cron/audit", cronAuth(http.HandlerFunc(handlers.Cron.Audit)))

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
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

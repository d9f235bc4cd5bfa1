// Package server exposes the sale over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/server/handler"
	"github.com/openlaunch/saled/internal/server/middleware"
	"github.com/openlaunch/saled/internal/server/ws"
)

// purchaseRateLimit bounds how many mutating requests a single client IP may
// make per minute. Read endpoints are not limited.
const (
	purchaseRateLimit  = 30
	purchaseRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, admin routes reject every request

	// ReadOnly drops every mutating route. Monitor replicas serve the read
	// surface without holding the sale leader lock.
	ReadOnly bool
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Sale   *handler.SaleHandler
	Admin  *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the sale service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Public read routes
// are open; mutating routes are rate limited per client IP when limiter is
// non-nil; admin routes sit behind the admin auth middleware.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Public sale surface.
	mux.HandleFunc("GET /api/sale/status", handlers.Sale.GetStatus)
	mux.HandleFunc("GET /api/balance/{address}", handlers.Sale.GetBalance)
	mux.HandleFunc("GET /api/purchases", handlers.Sale.ListPurchases)
	mux.HandleFunc("GET /api/purchases/{id}", handlers.Sale.GetPurchase)
	mux.HandleFunc("GET /api/claims", handlers.Sale.ListClaims)

	// Mutating endpoints, rate limited.
	adminAuth := middleware.AdminAuth(cfg.AdminAPIKey)
	if !cfg.ReadOnly {
		var limited func(http.Handler) http.Handler
		if limiter != nil {
			limited = middleware.RateLimit(limiter, purchaseRateLimit, purchaseRateWindow)
		} else {
			limited = func(next http.Handler) http.Handler { return next }
		}
		mux.Handle("POST /api/purchase", limited(http.HandlerFunc(handlers.Sale.PostPurchase)))
		mux.Handle("POST /api/claim", limited(http.HandlerFunc(handlers.Sale.PostClaim)))

		mux.Handle("POST /api/admin/block", adminAuth(http.HandlerFunc(handlers.Admin.PostBlock)))
		mux.Handle("POST /api/admin/unblock", adminAuth(http.HandlerFunc(handlers.Admin.PostUnblock)))
		mux.Handle("POST /api/admin/sweep", adminAuth(http.HandlerFunc(handlers.Admin.PostSweep)))
		mux.Handle("DELETE /api/admin/exports/{path...}", adminAuth(http.HandlerFunc(handlers.Admin.DeleteExport)))
	}
	mux.Handle("GET /api/admin/audit", adminAuth(http.HandlerFunc(handlers.Admin.GetAudit)))
	mux.Handle("GET /api/admin/exports", adminAuth(http.HandlerFunc(handlers.Admin.ListExports)))
	mux.Handle("GET /api/admin/exports/{path...}", adminAuth(http.HandlerFunc(handlers.Admin.GetExport)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
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

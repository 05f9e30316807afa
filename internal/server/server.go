package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/metrics"
	"github.com/alanyoungcy/assetmarket/internal/server/handler"
	"github.com/alanyoungcy/assetmarket/internal/server/middleware"
	"github.com/alanyoungcy/assetmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig
	// RateLimit is the number of requests a caller may make per RateWindow.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingHandler
	Offers   *handler.OfferHandler
	Sales    *handler.SaleHandler
	Feed     *handler.FeedHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API of the marketplace.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and
// the middleware chain applied. limiter may be nil when RateLimit is zero.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := func(fn http.HandlerFunc) http.Handler { return middleware.RequireAdmin(fn) }

	// --- Register routes ---

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", handlers.Health.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	// Listings, bids and buy-now.
	mux.HandleFunc("GET /api/listings", handlers.Listings.List)
	mux.HandleFunc("POST /api/listings", handlers.Listings.Create)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.Get)
	mux.HandleFunc("POST /api/listings/{id}/cancel", handlers.Listings.Cancel)
	mux.HandleFunc("POST /api/listings/{id}/favorite", handlers.Listings.Favorite)
	mux.HandleFunc("POST /api/listings/{id}/view", handlers.Listings.View)
	mux.HandleFunc("GET /api/listings/{id}/bids", handlers.Listings.Bids)
	mux.HandleFunc("POST /api/listings/{id}/bids", handlers.Listings.PlaceBid)
	mux.HandleFunc("POST /api/listings/{id}/buy", handlers.Listings.Buy)
	mux.Handle("PUT /api/collections/{collection}/royalty", admin(handlers.Listings.SetRoyalty))

	// Offers.
	mux.HandleFunc("GET /api/offers", handlers.Offers.List)
	mux.HandleFunc("POST /api/offers", handlers.Offers.Make)
	mux.HandleFunc("GET /api/offers/{id}", handlers.Offers.Get)
	mux.HandleFunc("POST /api/offers/{id}/accept", handlers.Offers.Accept)
	mux.HandleFunc("POST /api/offers/{id}/cancel", handlers.Offers.Cancel)
	mux.HandleFunc("POST /api/offers/{id}/reject", handlers.Offers.Reject)

	// Sales.
	mux.HandleFunc("GET /api/sales", handlers.Sales.List)
	mux.HandleFunc("GET /api/sales/{id}", handlers.Sales.Get)
	mux.Handle("POST /api/sales/{id}/settlement", admin(handlers.Sales.AttachSettlement))

	// Feed and stats.
	mux.HandleFunc("GET /api/activity", handlers.Feed.Activity)
	mux.HandleFunc("GET /api/prices", handlers.Feed.PriceHistory)
	mux.HandleFunc("GET /api/stats", handlers.Feed.Stats)

	// Operator endpoints.
	mux.Handle("POST /api/admin/sweep", admin(handlers.Admin.Sweep))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Instrumentation wraps the mux directly so
	// it sees the matched route pattern.
	var h http.Handler = metrics.InstrumentHandler(mux)
	if cfg.RateLimit > 0 && limiter != nil {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	auth := cfg.Auth
	auth.PublicPaths = slices.Concat(auth.PublicPaths, []string{"/api/health", "/api/ready", "/metrics"})
	h = middleware.Auth(auth)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger.With(slog.String("component", "http")),
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

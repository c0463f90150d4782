// Package server is the HTTP gateway: listing commands, ledger queries, the
// live sale WebSocket and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/server/handler"
	"github.com/alanyoungcy/nftpayments/internal/server/middleware"
	"github.com/alanyoungcy/nftpayments/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per client per RateWindow; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingHandler
	Sales    *handler.SaleHandler
	Audit    *handler.AuditHandler // optional
}

// Server is the HTTP + WebSocket gateway.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Options carries the optional collaborators of the server.
type Options struct {
	Hub      *ws.Hub
	Limiter  domain.RateLimiter
	Gatherer prometheus.Gatherer
}

// NewServer registers every route and wraps the mux in CORS, logging,
// rate limiting and auth, outermost first.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newHandler(cfg, handlers, opts, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
	}
}

func newHandler(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /api/listings", handlers.Listings.ListListings)
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListing)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.GetListing)
	mux.HandleFunc("POST /api/listings/{id}/fill", handlers.Listings.FillListing)

	mux.HandleFunc("GET /api/sales", handlers.Sales.ListSales)
	mux.HandleFunc("GET /api/sales/feed", handlers.Sales.Feed)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}

	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(opts.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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

// Package server exposes the trading engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/server/handler"
	"github.com/alanyoungcy/profitfloor/internal/server/middleware"
	"github.com/alanyoungcy/profitfloor/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers. Nil Refresh, Prices or Hub leave
// their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Refresh   *handler.RefreshHandler
	Wallet    *handler.WalletHandler
	Prices    *handler.PriceHandler
	Hub       *ws.Hub
}

// Server is the headless HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, rate
// limiting and auth, outermost first.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, h, limiter, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute, // buys and sells wait for confirmation
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/positions", h.Positions.ListOpen)
	mux.HandleFunc("GET /api/positions/history", h.Positions.History)
	mux.HandleFunc("GET /api/positions/{id}", h.Positions.Get)
	mux.HandleFunc("GET /api/positions/{id}/audit", h.Positions.Audit)
	mux.HandleFunc("POST /api/positions", h.Positions.Buy)
	mux.HandleFunc("POST /api/positions/{id}/sell", h.Positions.Sell)
	mux.HandleFunc("POST /api/positions/sell-by-token", h.Positions.SellByToken)

	if h.Refresh != nil {
		mux.HandleFunc("POST /api/positions/{id}/refresh", h.Refresh.RefreshOne)
		mux.HandleFunc("POST /api/refresh", h.Refresh.RefreshAll)
	}

	mux.HandleFunc("GET /api/wallet/{chain_id}", h.Wallet.Balance)

	if h.Prices != nil {
		mux.HandleFunc("GET /api/prices/{chain_id}/{token}", h.Prices.LastObserved)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var out http.Handler = mux
	out = middleware.Auth(cfg.APIKey, "/api/health")(out)
	out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

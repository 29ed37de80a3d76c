// Package httpserver exposes the observability surface: Prometheus metrics,
// the health probes, and the operational state endpoint.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/pkg/healthprobe"
	"github.com/mselser95/esports-arb/pkg/types"
)

// BusStats is the queue surface of the event bus. Satisfied by *bus.Bus.
type BusStats interface {
	QueueDepths() map[string]int
	DLQSize() int
}

// EngineStates is the per-engine snapshot surface. Satisfied by the router.
type EngineStates interface {
	TradingStates() map[string]types.TradingState
	TruthStates() map[string]types.TruthState
}

// Config holds server configuration.
type Config struct {
	Port    int
	Logger  *zap.Logger
	Health  *healthprobe.HealthChecker
	Bus     BusStats
	Engines EngineStates
}

// Server serves /metrics, /health, /ready, and /api/state.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// New wires the routes. Nothing listens until Start.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Health == nil {
		return nil, fmt.Errorf("health checker cannot be nil")
	}

	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}

	if cfg.Engines == nil {
		return nil, fmt.Errorf("engines cannot be nil")
	}

	if cfg.Port <= 0 {
		cfg.Port = 8080
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.Health.Health())
	r.Get("/ready", cfg.Health.Ready())
	r.Get("/api/state", newStateHandler(cfg.Logger, cfg.Bus, cfg.Engines).handle)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}, nil
}

// Start blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")

	return nil
}

// Package core is the HTTP chassis shared by payhook binaries. It builds a chi
// router with the cross-cutting middleware (panic recovery, request ids,
// request logging, metrics) and leaves endpoint registration to handler
// packages via RouteRegistrars.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payhook/internal/config"
)

// MetricsCollector records per-request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler package's routes on the root router.
type RouteRegistrar func(r chi.Router)

// Server holds the router and its dependencies.
type Server struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics MetricsCollector

	HealthProbes    []HealthProbe
	RouteRegistrars []RouteRegistrar

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	router  *chi.Mux
	closers []func(context.Context) error
}

// NewServer validates its inputs and prepares an empty router. Callers set
// probes and registrars, then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup hook. Hooks run in reverse order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs the registered hooks and joins their errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.ErrorContext(ctx, "shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/schedbench/internal/aggregate"
	"github.com/me/schedbench/internal/config"
	"github.com/me/schedbench/internal/store"
)

// Server is the schedbench report API server.
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	config     config.ServerConfig
	startTime  time.Time
	workspace  string
	aggregator *aggregate.Aggregator
	store      store.Store // optional; nil disables history and ?record=true
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore sets the archive used by the history endpoints.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// New creates a new Server with all routes registered. Metrics are
// aggregated from the deadline layouts under workspace on every request.
func New(cfg config.ServerConfig, workspace string, agg *aggregate.Aggregator, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.With("component", "server"),
		config:     cfg,
		startTime:  time.Now(),
		workspace:  workspace,
		aggregator: agg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Get("/metrics", s.handleMetrics)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Get("/{id}", s.handleGetReport)
		})
		r.Get("/runs", s.handleListRuns)
	})
}

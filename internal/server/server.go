// Package server exposes the HTTP API: signal intake, execution status,
// orders and positions, service health, the monitor dashboard, and an SSE
// stream of system events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/audit"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/events"
	"github.com/aristath/relay/internal/execution"
	"github.com/aristath/relay/internal/monitor"
	"github.com/aristath/relay/internal/orderbook"
	"github.com/aristath/relay/internal/services"
)

// Config holds server configuration and dependencies.
type Config struct {
	Port    int
	Log     zerolog.Logger
	DevMode bool

	Engine  *execution.Engine
	Book    *orderbook.Book
	Monitor *monitor.Monitor
	Runtime *services.Runtime
	Events  *events.Manager
	Trail   *audit.Trail        // optional; audit query routes 404 without it
	Broker  domain.BrokerClient // optional; health reports broker connectivity when set
}

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	engine  *execution.Engine
	book    *orderbook.Book
	monitor *monitor.Monitor
	runtime *services.Runtime
	events  *events.Manager
	trail   *audit.Trail
	broker  domain.BrokerClient
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		engine:  cfg.Engine,
		book:    cfg.Book,
		monitor: cfg.Monitor,
		runtime: cfg.Runtime,
		events:  cfg.Events,
		trail:   cfg.Trail,
		broker:  cfg.Broker,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	// WriteTimeout stays unset: the SSE stream holds its response open
	// indefinitely. Request handlers are bounded by the route timeout.
	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the router. Used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/health", s.handleHealth)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/signals", func(r chi.Router) {
				r.Post("/", s.handleSubmitSignal)
			})

			r.Route("/executions", func(r chi.Router) {
				r.Get("/", s.handleListExecutions)
				r.Get("/{id}", s.handleGetExecution)
			})

			r.Get("/orders", s.handleListOrders)
			r.Get("/positions", s.handleListPositions)
			r.Get("/services", s.handleServiceHealth)

			r.Route("/monitor", func(r chi.Router) {
				r.Get("/dashboard", s.handleDashboard)
				r.Get("/alerts", s.handleListAlerts)
				r.Post("/alerts/acknowledge", s.handleAcknowledgeAlerts)
			})

			r.Get("/models/{model}/report", s.handleModelReport)

			r.Route("/audit", func(r chi.Router) {
				r.Get("/executions", s.handleAuditExecutions)
			})
		})

		// SSE stream stays outside the request timeout; it holds the
		// connection open until the client disconnects.
		r.Get("/events/stream", s.handleEventStream)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Package api provides the HTTP command API of the treewatch daemon.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/treewatch/treewatch/internal/ratelimit"
	"github.com/treewatch/treewatch/internal/registry"
	"github.com/treewatch/treewatch/internal/root"
	"github.com/treewatch/treewatch/internal/sse"
	"github.com/treewatch/treewatch/internal/validation"
)

// Roots is the registry surface the handlers need.
type Roots interface {
	Watch(ctx context.Context, path string) (*root.Root, error)
	Unwatch(ctx context.Context, path string) (string, error)
	Get(path string) (*root.Root, error)
	List() []root.Info
	Len() int
}

// Pinger reports whether the state store is reachable.
type Pinger interface {
	Ping() error
}

// Options tunes the command API.
type Options struct {
	// SyncTimeout is used by queries that do not name their own.
	SyncTimeout time.Duration
	// LogRate and LogBurst pace the log command per client address.
	LogRate  float64
	LogBurst int
}

func (o *Options) setDefaults() {
	if o.LogRate <= 0 {
		o.LogRate = 10
	}
	if o.LogBurst <= 0 {
		o.LogBurst = 20
	}
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	roots      Roots
	store      Pinger
	sseHandler *sse.Handler
	sseManager *sse.Manager
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
	validator  *validation.Validator
	logLimiter *ratelimit.KeyedRateLimiter
	opts       Options
}

// NewServer creates a new HTTP server with all routes configured.
// store may be nil when persistence is disabled.
func NewServer(roots Roots, store Pinger, sseHandler *sse.Handler, sseManager *sse.Manager, opts Options, logger *slog.Logger) *Server {
	opts.setDefaults()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	humaConfig := huma.DefaultConfig("treewatch", "1.0.0")
	humaConfig.Info.Description = "Watches directory trees and answers what changed since a clock or named cursor."
	api := humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s := &Server{
		roots:      roots,
		store:      store,
		sseHandler: sseHandler,
		sseManager: sseManager,
		router:     router,
		api:        api,
		logger:     logger,
		validator:  validation.New(),
		logLimiter: ratelimit.New(opts.LogRate, opts.LogBurst),
		opts:       opts,
	}

	s.registerHealthRoutes()
	s.registerRootRoutes()
	s.registerQueryRoutes()
	s.registerLogRoutes()
	if sseHandler != nil {
		router.Get("/api/v1/subscribe", sseHandler.ServeHTTP)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the huma API, for OpenAPI export and tests.
func (s *Server) API() huma.API {
	return s.api
}

var _ Roots = (*registry.Registry)(nil)

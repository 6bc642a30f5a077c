// Package api serves the read-only catalog query API and the manual crawl
// trigger.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/simonhayes51/sbccrawler-sub000/internal/api/handlers"
	"github.com/simonhayes51/sbccrawler-sub000/internal/api/middleware"
	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	// CORS settings
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int

	RequestTimeout time.Duration

	// RootPath is the catalog root used to complete short slugs.
	RootPath string

	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:     []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:             300,
		RequestTimeout:     30 * time.Second,
		RootPath:           "/sbc/",
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
	}
}

// Dependencies holds all dependencies required by the API handlers. Catalog
// is nil when no database is configured.
type Dependencies struct {
	Logger     *logger.Logger
	Catalog    handlers.CatalogReader
	Cache      storage.CatalogCache
	Runner     handlers.CrawlRunner
	Components map[string]handlers.HealthChecker
}

// NewRouter creates and configures a new Chi router with all middleware and routes.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("api")

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(chimiddleware.Timeout(config.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: config.AllowedMethods,
		AllowedHeaders: config.AllowedHeaders,
		ExposedHeaders: config.ExposedHeaders,
		MaxAge:         config.MaxAge,
	}))

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		rateLimiter = middleware.NewRateLimiter(config.RateLimitConfig, log)
	}
	limit := func(r chi.Router, limitType string) chi.Router {
		if rateLimiter == nil {
			return r
		}
		return r.With(rateLimiter.Middleware(limitType))
	}

	r.Get("/ready", handlers.ReadyCheck(deps.Components))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health(deps.Catalog, deps.Runner, log))

		read := limit(r, "read")
		read.Get("/sbcs", handlers.ListSets(deps.Catalog, deps.Cache, log))
		read.Get("/sbc/*", handlers.GetSet(deps.Catalog, deps.Cache, config.RootPath, log))

		r.Get("/crawl/status", handlers.CrawlStatus(deps.Runner, log))
		limit(r, "trigger").Post("/crawl", handlers.TriggerCrawl(deps.Runner, log))
	})

	return r
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new HTTP server.
func NewServer(handler http.Handler, config ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		log: log.WithComponent("http"),
	}
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

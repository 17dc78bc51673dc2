package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/ratelimit"
)

// Options carries the dependencies of the HTTP surface.
type Options struct {
	Handler   *handlers.Handler
	Socket    http.Handler       // WebSocket endpoint
	Limiter   *ratelimit.Limiter // shared rate limit state
	RateLimit middleware.RateLimiterConfig
	StaticDir string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ReadOnly)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if opts.Limiter != nil {
		limiter := middleware.NewRateLimiter(opts.Limiter, logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := opts.Handler

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Get("/members", h.Members)
	r.Get("/members/{id}", h.Who)
	r.Get("/stats", h.Stats)
	r.Get("/messages", h.Messages)
	r.Method(http.MethodGet, "/ws", opts.Socket)

	// Chat page and assets
	r.Handle("/*", http.FileServer(http.Dir(staticDir(opts.StaticDir))))

	return r
}

// staticDir returns the path to static files directory.
func staticDir(configured string) string {
	if filepath.IsAbs(configured) {
		return configured
	}
	// Check if running from app directory (production container)
	if _, err := os.Stat(filepath.Join("/app", configured)); err == nil {
		return filepath.Join("/app", configured)
	}
	return configured
}

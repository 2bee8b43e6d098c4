// Package api provides the HTTP API for the licensegate server.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MacJediWizard/licensegate/internal/api/handlers"
	"github.com/MacJediWizard/licensegate/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// AllowedOrigins for CORS. Empty means all origins allowed outside production.
	AllowedOrigins []string
	// StrictCORS rejects every cross-origin request when AllowedOrigins is empty.
	StrictCORS bool
	// RateLimitRequests is the number of verify calls allowed per period, 0 to disable.
	RateLimitRequests int64
	// RateLimitPeriod is the rate limit window.
	RateLimitPeriod time.Duration
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	// RefreshInterval is advertised to the dashboard page.
	RefreshInterval time.Duration
	// Version information for the version endpoint.
	Version     string
	Commit      string
	BuildDate   string
	StoreDriver string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    []string{},
		RateLimitRequests: 600,
		RateLimitPeriod:   time.Minute,
		MaxBodyBytes:      middleware.DefaultMaxBodyBytes,
		RefreshInterval:   10 * time.Second,
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Verifier handlers.Verifier
	Store    handlers.AdminStore
	Operator handlers.Operator
	Health   handlers.StorageHealthChecker
	// System enables /health/system when set.
	System   handlers.SystemCollector
	Gatherer prometheus.Gatherer
	// Redis backs the rate limiter when set.
	Redis *redis.Client
}

func (d Deps) validate() error {
	var errs []error
	if d.Verifier == nil {
		errs = append(errs, errors.New("verifier is required"))
	}
	if d.Store == nil {
		errs = append(errs, errors.New("admin store is required"))
	}
	if d.Operator == nil {
		errs = append(errs, errors.New("operator is required"))
	}
	return errors.Join(errs...)
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = middleware.DefaultMaxBodyBytes
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestID())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.StrictCORS, logger))
	r.Engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	// Rate limiting applies to verification only. Zero requests disables it.
	var verifyMiddleware []gin.HandlerFunc
	if cfg.RateLimitRequests > 0 {
		rateLimiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Period:   cfg.RateLimitPeriod,
			Redis:    deps.Redis,
		})
		if err != nil {
			return nil, err
		}
		verifyMiddleware = append(verifyMiddleware, rateLimiter)
	}

	handlers.NewVerifyHandler(deps.Verifier, logger).RegisterPublicRoutes(r.Engine, verifyMiddleware...)

	handlers.NewHealthHandler(deps.Health, deps.System, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, cfg.StoreDriver).RegisterPublicRoutes(r.Engine)

	if deps.Gatherer != nil {
		handlers.NewMetricsHandler(deps.Gatherer).RegisterPublicRoutes(r.Engine)
	}

	dashboard := handlers.NewDashboardHandler(deps.Operator, cfg.RefreshInterval, logger)
	if err := dashboard.RegisterPublicRoutes(r.Engine); err != nil {
		return nil, err
	}
	r.Engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/dashboard")
	})

	apiV1 := r.Engine.Group("/api/v1")
	handlers.NewAdminHandler(deps.Store, deps.Operator, logger).RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}

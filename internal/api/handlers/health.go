package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MacJediWizard/licensegate/internal/health"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// healthCheckTimeout bounds a storage ping.
const healthCheckTimeout = 5 * time.Second

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
}

// StorageHealthChecker is implemented by every store backend.
type StorageHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// SystemCollector samples host resource usage.
type SystemCollector interface {
	Collect(ctx context.Context) (*health.Metrics, error)
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	store  StorageHealthChecker
	system SystemCollector
	logger zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. system may be nil.
func NewHealthHandler(store StorageHealthChecker, system SystemCollector, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		system: system,
		logger: logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	g := r.Group("/health")
	{
		g.GET("", h.Liveness)
		g.GET("/db", h.Storage)
		g.GET("/system", h.System)
	}
}

// Liveness reports that the process is serving requests.
// GET /health
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: HealthStatusHealthy})
}

// Storage pings the license store.
// GET /health/db
func (h *HealthHandler) Storage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	result := h.checkStorage(ctx)
	response := HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{"database": result},
	}

	if result.Status == HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// System reports host CPU, memory and data volume usage.
// GET /health/system
func (h *HealthHandler) System(c *gin.Context) {
	if h.system == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "system metrics not enabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	m, err := h.system.Collect(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("system metrics collection failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to collect system metrics"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *HealthHandler) checkStorage(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Status: HealthStatusHealthy}

	if h.store == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "storage not configured"
		return result
	}

	err := h.store.Ping(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "storage ping failed"
		h.logger.Warn().Err(err).Msg("storage health check failed")
		return result
	}

	result.Details = h.store.Health()
	return result
}

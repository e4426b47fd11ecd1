package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/integrations/licensor"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

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
	Error  string                        `json:"error,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// CatalogHealthChecker defines the interface for external catalog health checking.
type CatalogHealthChecker interface {
	TestConnectivity(ctx context.Context) *licensor.ConnectivityResult
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db      DatabaseHealthChecker
	catalog CatalogHealthChecker
	logger  zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db DatabaseHealthChecker, catalog CatalogHealthChecker, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		catalog: catalog,
		logger:  logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
		health.GET("/catalog", h.Catalog)
	}
}

// Overall returns the overall server health status. The external catalog is
// reported but never flips the overall status: the server remains usable when
// the vendor API is down.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: make(map[string]*HealthCheckResult),
	}

	dbResult := h.checkDatabase(ctx)
	response.Checks["database"] = dbResult

	catalogResult := h.checkCatalog(ctx)
	response.Checks["catalog"] = catalogResult

	if dbResult.Status == HealthStatusUnhealthy {
		response.Status = HealthStatusUnhealthy
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Database returns the database health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	result := h.checkDatabase(ctx)

	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{
			"database": result,
		},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Catalog returns the external catalog health status.
// GET /health/catalog
func (h *HealthHandler) Catalog(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	result := h.checkCatalog(ctx)

	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{
			"catalog": result,
		},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// checkDatabase performs a database health check.
func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()

	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	result.Details = h.db.Health()
	return result
}

// checkCatalog probes the external license catalog API.
func (h *HealthHandler) checkCatalog(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.catalog == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "catalog client not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	probe := h.catalog.TestConnectivity(ctx)
	result.Duration = time.Since(start).String()
	result.Details = map[string]any{
		"message":    probe.Message,
		"latency_ms": probe.Latency.Milliseconds(),
	}

	if !probe.Success {
		result.Status = HealthStatusUnhealthy
		result.Error = probe.Message
		h.logger.Warn().Str("message", probe.Message).Msg("catalog health check failed")
	}

	return result
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/metrics"
)

// MetricsHandler serves Prometheus-style metrics.
type MetricsHandler struct {
	collector *metrics.Collector
	logger    zerolog.Logger
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(collector *metrics.Collector, logger zerolog.Logger) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		logger:    logger.With().Str("component", "metrics_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the metrics endpoint.
func (h *MetricsHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/metrics", h.Metrics)
}

// Metrics returns metrics in Prometheus text exposition format.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	snap, err := h.collector.Collect(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to collect metrics")
		c.String(http.StatusInternalServerError, "failed to collect metrics")
		return
	}

	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.String(http.StatusOK, h.collector.Format(snap))
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/export"
)

// Uploader pushes an exported report to remote object storage.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// ExportHandler serves report downloads and optional S3 uploads.
type ExportHandler struct {
	exporter *export.Exporter
	uploader Uploader
	logger   zerolog.Logger
}

// NewExportHandler creates a new ExportHandler. uploader may be nil when no
// object storage is configured.
func NewExportHandler(exporter *export.Exporter, uploader Uploader, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		exporter: exporter,
		uploader: uploader,
		logger:   logger.With().Str("component", "export_handler").Logger(),
	}
}

// RegisterRoutes registers export routes on the given router group.
func (h *ExportHandler) RegisterRoutes(r *gin.RouterGroup) {
	exp := r.Group("/export")
	{
		exp.GET("/licenses", h.Licenses)
		exp.GET("/runs", h.Runs)
	}
}

// Licenses exports the full license catalog.
// GET /api/v1/export/licenses?format=csv&upload=true
func (h *ExportHandler) Licenses(c *gin.Context) {
	h.serve(c, export.ReportTypeLicenses, h.exporter.ExportLicenses)
}

// Runs exports recent sync run history.
// GET /api/v1/export/runs?format=json
func (h *ExportHandler) Runs(c *gin.Context) {
	h.serve(c, export.ReportTypeSyncRuns, h.exporter.ExportSyncRuns)
}

func (h *ExportHandler) serve(c *gin.Context, reportType export.ReportType, fn func(context.Context, export.Options) ([]byte, error)) {
	format, ok := export.ParseFormat(c.Query("format"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid format"})
		return
	}

	opts := export.DefaultOptions()
	opts.Format = format
	opts.Description = c.Query("description")

	data, err := fn(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Str("report", string(reportType)).Msg("export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	name := export.ObjectName(reportType, format, time.Now().UTC())
	contentType := export.ContentType(format)

	if c.Query("upload") == "true" {
		if h.uploader == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "object storage is not configured"})
			return
		}
		location, err := h.uploader.Upload(c.Request.Context(), name, data, contentType)
		if err != nil {
			h.logger.Error().Err(err).Str("object", name).Msg("upload failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"uploaded": true, "location": location, "object": name})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Data(http.StatusOK, contentType, data)
}

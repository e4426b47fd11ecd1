package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/config"
	"github.com/veridesk/veridesk/internal/models"
	syncengine "github.com/veridesk/veridesk/internal/sync"
)

// SyncRunner executes syncs and reports sync state.
type SyncRunner interface {
	Execute(ctx context.Context, opts syncengine.Options) (*syncengine.Result, error)
	GetSyncStatus(ctx context.Context) *syncengine.Status
}

// SyncRunStore provides access to the persisted run history.
type SyncRunStore interface {
	ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

// SyncEventSink receives run lifecycle notifications. May be nil.
type SyncEventSink interface {
	PublishSyncStarted(trigger models.SyncTrigger, mode models.SyncMode)
	PublishSyncCompleted(run *models.SyncRun)
}

// SyncHandler handles sync-related HTTP endpoints.
type SyncHandler struct {
	runner SyncRunner
	runs   SyncRunStore
	events SyncEventSink
	gate   *syncengine.Gate
	cfg    *config.SyncConfig
	logger zerolog.Logger
}

// NewSyncHandler creates a new SyncHandler. gate is the single-flight guard
// shared with the scheduler so manual and scheduled runs never overlap; it
// may be nil when no scheduler exists.
func NewSyncHandler(runner SyncRunner, runs SyncRunStore, events SyncEventSink, gate *syncengine.Gate, cfg *config.SyncConfig, logger zerolog.Logger) *SyncHandler {
	if gate == nil {
		gate = &syncengine.Gate{}
	}
	return &SyncHandler{
		runner: runner,
		runs:   runs,
		events: events,
		gate:   gate,
		cfg:    cfg,
		logger: logger.With().Str("component", "sync_handler").Logger(),
	}
}

// RegisterRoutes registers sync routes on the given router group.
func (h *SyncHandler) RegisterRoutes(r *gin.RouterGroup) {
	syncGroup := r.Group("/sync")
	{
		syncGroup.POST("/run", h.Run)
		syncGroup.GET("/status", h.Status)
		syncGroup.GET("/runs", h.Runs)
	}
}

// RunSyncRequest is the request body for triggering a sync.
type RunSyncRequest struct {
	Comprehensive    bool `json:"comprehensive"`
	DetectDuplicates bool `json:"detect_duplicates"`
	BatchSize        int  `json:"batch_size"`
	Limit            int  `json:"limit"`
	MaxPages         int  `json:"max_pages"`
}

// Run triggers a synchronous catalog sync and returns the run result.
// POST /api/v1/sync/run
func (h *SyncHandler) Run(c *gin.Context) {
	var req RunSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.gate.TryAcquire() {
		c.JSON(http.StatusConflict, gin.H{"error": "a sync is already running"})
		return
	}
	defer h.gate.Release()

	opts := syncengine.Options{
		Comprehensive:    req.Comprehensive,
		DetectDuplicates: req.DetectDuplicates,
		BatchSize:        req.BatchSize,
		Limit:            req.Limit,
		MaxPages:         req.MaxPages,
		Trigger:          models.SyncTriggerManual,
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = h.cfg.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBatchSize
	}

	mode := models.SyncModeSingleBatch
	if opts.Comprehensive {
		mode = models.SyncModeComprehensive
	}
	if h.events != nil {
		h.events.PublishSyncStarted(models.SyncTriggerManual, mode)
	}

	result, err := h.runner.Execute(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("sync run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed: " + err.Error()})
		return
	}

	if h.events != nil {
		run := models.NewSyncRun(models.SyncTriggerManual, mode)
		run.Success = result.Success
		run.TotalFetched = result.TotalFetched
		run.Created = result.Created
		run.Updated = result.Updated
		run.Failed = result.Failed
		run.DuplicatesDetected = result.DuplicatesDetected
		run.DuplicatesConsolidated = result.DuplicatesConsolidated
		run.Duration = result.Duration
		h.events.PublishSyncCompleted(run)
	}

	c.JSON(http.StatusOK, result)
}

// Status returns the current sync status snapshot.
// GET /api/v1/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	status := h.runner.GetSyncStatus(c.Request.Context())
	c.JSON(http.StatusOK, status)
}

// Runs returns the recent sync run history.
// GET /api/v1/sync/runs
// Optional query param: limit (default 20)
func (h *SyncHandler) Runs(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := h.runs.ListSyncRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sync runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sync runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Package handlers implements the HTTP handlers for the Veridesk API.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/models"
)

// LicenseStore defines the interface for license persistence operations.
type LicenseStore interface {
	CreateLicense(ctx context.Context, lic *models.License) error
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	ListLicenses(ctx context.Context, filter models.LicenseFilter) ([]*models.License, int, error)
	UpdateLicenseFields(ctx context.Context, id uuid.UUID, changes models.LicenseChanges) (*models.License, error)
	DeleteLicense(ctx context.Context, id uuid.UUID) (bool, error)
}

// LicenseEventSink receives license change notifications. May be nil.
type LicenseEventSink interface {
	PublishLicenseCreated(licenseID uuid.UUID, appID, dba string)
	PublishLicenseUpdated(licenseID uuid.UUID, appID, dba string)
	PublishLicenseDeleted(licenseID uuid.UUID, appID, dba string)
}

// LicensesHandler handles license-related HTTP endpoints.
type LicensesHandler struct {
	store  LicenseStore
	events LicenseEventSink
	logger zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(store LicenseStore, events LicenseEventSink, logger zerolog.Logger) *LicensesHandler {
	return &LicensesHandler{
		store:  store,
		events: events,
		logger: logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterRoutes registers license routes on the given router group.
func (h *LicensesHandler) RegisterRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/licenses")
	{
		licenses.GET("", h.List)
		licenses.POST("", h.Create)
		licenses.GET("/:id", h.Get)
		licenses.PATCH("/:id", h.Update)
		licenses.DELETE("/:id", h.Delete)
	}
}

// CreateLicenseRequest is the request body for creating a license.
type CreateLicenseRequest struct {
	AppID        string   `json:"appid"`
	CountID      int      `json:"countid"`
	DBA          string   `json:"dba" binding:"required,min=1,max=255"`
	Zip          string   `json:"zip"`
	Status       *int     `json:"status"`
	LicenseType  string   `json:"license_type"`
	MonthlyFee   *float64 `json:"monthly_fee"`
	EmailLicense string   `json:"email_license"`
}

// UpdateLicenseRequest is the request body for partially updating a license.
type UpdateLicenseRequest struct {
	CountID      *int     `json:"countid,omitempty"`
	DBA          *string  `json:"dba,omitempty"`
	Zip          *string  `json:"zip,omitempty"`
	Status       *int     `json:"status,omitempty"`
	LicenseType  *string  `json:"license_type,omitempty"`
	MonthlyFee   *float64 `json:"monthly_fee,omitempty"`
	EmailLicense *string  `json:"email_license,omitempty"`
}

// List returns licenses matching the query filters.
// GET /api/v1/licenses
// Optional query params: search, status, license_type, sort_by, sort_desc, limit, offset
func (h *LicensesHandler) List(c *gin.Context) {
	filter := models.LicenseFilter{
		Search:      c.Query("search"),
		LicenseType: c.Query("license_type"),
		SortBy:      c.Query("sort_by"),
		SortDesc:    c.Query("sort_desc") == "true",
	}

	if s := c.Query("status"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		status := models.LicenseStatus(n)
		filter.Status = &status
	}

	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if o := c.Query("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = n
	}

	licenses, total, err := h.store.ListLicenses(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list licenses")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list licenses"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"licenses": licenses,
		"total":    total,
	})
}

// Get returns a specific license by ID.
// GET /api/v1/licenses/:id
func (h *LicensesHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license ID"})
		return
	}

	lic, err := h.store.GetLicenseByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to get license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get license"})
		return
	}
	if lic == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		return
	}

	c.JSON(http.StatusOK, lic)
}

// Create creates a new license.
// POST /api/v1/licenses
func (h *LicensesHandler) Create(c *gin.Context) {
	var req CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lic := models.NewLicense(req.AppID)
	lic.CountID = req.CountID
	lic.DBA = req.DBA
	lic.Zip = req.Zip
	lic.LicenseType = req.LicenseType
	lic.EmailLicense = req.EmailLicense
	if req.Status != nil {
		lic.Status = models.LicenseStatus(*req.Status)
	}
	if req.MonthlyFee != nil {
		lic.MonthlyFee = *req.MonthlyFee
	}

	if err := h.store.CreateLicense(c.Request.Context(), lic); err != nil {
		h.logger.Error().Err(err).Str("appid", req.AppID).Msg("failed to create license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
		return
	}

	if h.events != nil {
		h.events.PublishLicenseCreated(lic.ID, lic.AppID, lic.DBA)
	}

	c.JSON(http.StatusCreated, lic)
}

// Update partially updates a license.
// PATCH /api/v1/licenses/:id
func (h *LicensesHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license ID"})
		return
	}

	var req UpdateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changes := models.LicenseChanges{
		CountID:      req.CountID,
		DBA:          req.DBA,
		Zip:          req.Zip,
		LicenseType:  req.LicenseType,
		MonthlyFee:   req.MonthlyFee,
		EmailLicense: req.EmailLicense,
	}
	if req.Status != nil {
		status := models.LicenseStatus(*req.Status)
		changes.Status = &status
	}

	if changes.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	lic, err := h.store.UpdateLicenseFields(c.Request.Context(), id, changes)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to update license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update license"})
		return
	}
	if lic == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		return
	}

	if h.events != nil {
		h.events.PublishLicenseUpdated(lic.ID, lic.AppID, lic.DBA)
	}

	c.JSON(http.StatusOK, lic)
}

// Delete removes a license.
// DELETE /api/v1/licenses/:id
func (h *LicensesHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license ID"})
		return
	}

	lic, err := h.store.GetLicenseByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to load license for delete")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete license"})
		return
	}
	if lic == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		return
	}

	deleted, err := h.store.DeleteLicense(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to delete license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete license"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		return
	}

	if h.events != nil {
		h.events.PublishLicenseDeleted(lic.ID, lic.AppID, lic.DBA)
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

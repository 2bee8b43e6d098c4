package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MacJediWizard/licensegate/internal/admin"
	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	defaultEventsLimit = 200
	maxEventsLimit     = 1000
	maxExportRows      = 10000
)

// AdminStore defines the read operations of the admin API.
type AdminStore interface {
	ListLicenses(ctx context.Context) ([]*models.License, error)
	ListRecentVerificationEvents(ctx context.Context, filter models.EventFilter) ([]*models.VerificationEvent, error)
	CountVerificationEvents(ctx context.Context, filter models.EventFilter) (int64, error)
}

// Operator performs status changes and serves the cached snapshot.
type Operator interface {
	SetStatus(ctx context.Context, licenseKey string, status models.LicenseStatus) (*admin.StatusChange, error)
	Snapshot(ctx context.Context) (*admin.Snapshot, error)
	Refresh(ctx context.Context) (*admin.Snapshot, error)
}

// AdminHandler handles the administration API.
type AdminHandler struct {
	store    AdminStore
	operator Operator
	logger   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store AdminStore, operator Operator, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		store:    store,
		operator: operator,
		logger:   logger.With().Str("component", "admin_handler").Logger(),
	}
}

// RegisterRoutes registers admin routes on the given router group.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	a := r.Group("/admin")
	{
		a.GET("/licenses", h.ListLicenses)
		a.PUT("/licenses/:key/status", h.SetStatus)
		a.GET("/events", h.ListEvents)
		a.GET("/events/export/csv", h.ExportEventsCSV)
		a.GET("/summary", h.Summary)
		a.POST("/refresh", h.Refresh)
	}
}

// LicenseListResponse is the response for listing licenses.
type LicenseListResponse struct {
	Licenses []*models.License `json:"licenses"`
}

// ListLicenses returns all license records ordered by client.
// GET /api/v1/admin/licenses
func (h *AdminHandler) ListLicenses(c *gin.Context) {
	licenses, err := h.store.ListLicenses(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list licenses")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to list licenses"})
		return
	}
	if licenses == nil {
		licenses = []*models.License{}
	}
	c.JSON(http.StatusOK, LicenseListResponse{Licenses: licenses})
}

// SetStatusRequest is the body of a status change.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus activates or suspends a license.
// PUT /api/v1/admin/licenses/:key/status
func (h *AdminHandler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: status is required"})
		return
	}

	status, err := models.ParseLicenseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or suspended"})
		return
	}

	change, err := h.operator.SetStatus(c.Request.Context(), c.Param("key"), status)
	if err != nil {
		h.writeStatusError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (h *AdminHandler) writeStatusError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrLicenseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
	case errors.Is(err, models.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or suspended"})
	default:
		h.logger.Error().Err(err).Str("license_key", c.Param("key")).Msg("failed to change license status")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to change license status"})
	}
}

// EventListResponse is the response for listing verification events.
type EventListResponse struct {
	Events     []*models.VerificationEvent `json:"events"`
	TotalCount int64                       `json:"total_count"`
	Limit      int                         `json:"limit"`
	Offset     int                         `json:"offset"`
}

// ListEvents returns recent verification events, newest first.
// GET /api/v1/admin/events
// Query params: license_key, client_id, allowed, limit, offset
func (h *AdminHandler) ListEvents(c *gin.Context) {
	filter, err := parseEventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.store.ListRecentVerificationEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list verification events")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to list verification events"})
		return
	}

	total, err := h.store.CountVerificationEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count verification events")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to count verification events"})
		return
	}

	if events == nil {
		events = []*models.VerificationEvent{}
	}
	c.JSON(http.StatusOK, EventListResponse{
		Events:     events,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// ExportEventsCSV writes the filtered events as CSV.
// GET /api/v1/admin/events/export/csv
func (h *AdminHandler) ExportEventsCSV(c *gin.Context) {
	filter, err := parseEventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if c.Query("limit") == "" {
		filter.Limit = maxExportRows
	}

	events, err := h.store.ListRecentVerificationEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to export verification events")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to export verification events"})
		return
	}

	filename := fmt.Sprintf("verification_events_%s.csv", time.Now().UTC().Format("2006-01-02_15-04-05"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	if err := writer.Write([]string{
		"id", "timestamp", "license_key", "client_id", "workflow_id",
		"context_identifier", "allowed", "reason",
	}); err != nil {
		h.logger.Error().Err(err).Msg("failed to write CSV header")
		return
	}

	for _, e := range events {
		if err := writer.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			models.StringValue(e.LicenseKey),
			models.StringValue(e.ClientID),
			models.StringValue(e.WorkflowID),
			models.StringValue(e.ContextIdentifier),
			strconv.FormatBool(e.Allowed),
			models.StringValue(e.Reason),
		}); err != nil {
			h.logger.Error().Err(err).Msg("failed to write CSV row")
			return
		}
	}

	h.logger.Info().Int("count", len(events)).Msg("verification events exported to CSV")
}

// Summary returns the cached dashboard snapshot.
// GET /api/v1/admin/summary
func (h *AdminHandler) Summary(c *gin.Context) {
	snap, err := h.operator.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load summary")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load summary"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Refresh rebuilds the snapshot immediately.
// POST /api/v1/admin/refresh
func (h *AdminHandler) Refresh(c *gin.Context) {
	snap, err := h.operator.Refresh(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("manual refresh failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh failed"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// parseEventFilter extracts filter parameters from the query string.
func parseEventFilter(c *gin.Context) (models.EventFilter, error) {
	filter := models.EventFilter{
		LicenseKey: c.Query("license_key"),
		ClientID:   c.Query("client_id"),
		Limit:      defaultEventsLimit,
	}

	if v := c.Query("allowed"); v != "" {
		allowed, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("allowed must be true or false")
		}
		filter.Allowed = &allowed
	}

	if v := c.Query("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		if l > maxEventsLimit {
			l = maxEventsLimit
		}
		filter.Limit = l
	}

	if v := c.Query("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil || o < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = o
	}

	return filter, nil
}

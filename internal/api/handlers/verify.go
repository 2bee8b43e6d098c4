// Package handlers implements the licensegate HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MacJediWizard/licensegate/internal/license"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"
)

// Verifier decides a license verification request.
type Verifier interface {
	Verify(ctx context.Context, req license.Request) (*license.Verdict, error)
}

// VerifyHandler handles the license verification endpoint.
type VerifyHandler struct {
	verifier Verifier
	logger   zerolog.Logger
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(verifier Verifier, logger zerolog.Logger) *VerifyHandler {
	return &VerifyHandler{
		verifier: verifier,
		logger:   logger.With().Str("component", "verify_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the verify route with optional extra
// middleware such as a rate limiter.
func (h *VerifyHandler) RegisterPublicRoutes(r *gin.Engine, mw ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, mw...), h.Verify)
	r.POST("/license/verify", handlers...)
}

// VerifyRequest is the verification payload. Every field is optional.
// WhatsAppNumber is accepted as an alias of ContextIdentifier.
type VerifyRequest struct {
	LicenseKey        *string `json:"license_key" binding:"omitempty,max=256"`
	ClientID          *string `json:"client_id" binding:"omitempty,max=256"`
	WorkflowID        *string `json:"workflow_id" binding:"omitempty,max=256"`
	ContextIdentifier *string `json:"context_identifier" binding:"omitempty,max=256"`
	WhatsAppNumber    *string `json:"whatsapp_number" binding:"omitempty,max=256"`
}

func (r VerifyRequest) toRequest() license.Request {
	ctxID := r.ContextIdentifier
	if ctxID == nil {
		ctxID = r.WhatsAppNumber
	}
	return license.Request{
		LicenseKey:        r.LicenseKey,
		ClientID:          r.ClientID,
		WorkflowID:        r.WorkflowID,
		ContextIdentifier: ctxID,
	}
}

// Verify decides one verification request.
// POST /license/verify
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindWith(&req, binding.JSON); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		case errors.Is(err, io.EOF):
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body is required"})
		default:
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON body"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		}
		return
	}

	verdict, err := h.verifier.Verify(c.Request.Context(), req.toRequest())
	if err != nil {
		var integrity *license.IntegrityError
		var storage *license.StorageError
		switch {
		case errors.As(err, &integrity):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "license record is corrupt"})
		case errors.As(err, &storage):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "license storage unavailable"})
		default:
			h.logger.Error().Err(err).Msg("unexpected verification error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}

	c.JSON(http.StatusOK, verdict)
}

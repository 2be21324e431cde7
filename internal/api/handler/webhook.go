package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/service"
)

// ImageProcessor runs the upload pipeline for one object.
type ImageProcessor interface {
	Process(ctx context.Context, fileName string) (*service.ProcessResult, error)
}

// WebhookHandler receives storage upload events.
type WebhookHandler struct {
	processor      ImageProcessor
	hasCredentials bool
}

// NewWebhookHandler creates a webhook handler.
// Parameters:
//   - processor: pipeline that handles the uploaded object.
//   - hasCredentials: whether the vision API key is configured.
//
// Returns:
//   - *WebhookHandler: initialized handler.
func NewWebhookHandler(processor ImageProcessor, hasCredentials bool) *WebhookHandler {
	return &WebhookHandler{processor: processor, hasCredentials: hasCredentials}
}

// uploadEvent accepts both the database-trigger shape {record:{name}} and a bare {name}.
type uploadEvent struct {
	Record *struct {
		Name string `json:"name"`
	} `json:"record"`
	Name string `json:"name"`
}

// fileName reads record.name when a record is present and the top-level name otherwise.
func (e *uploadEvent) fileName() string {
	if e.Record != nil {
		return strings.TrimSpace(e.Record.Name)
	}
	return strings.TrimSpace(e.Name)
}

// ImageUploaded handles POST /webhooks/image-upload.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *WebhookHandler) ImageUploaded(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var event uploadEvent
	var payload interface{}
	if err := json.Unmarshal(body, &event); err != nil || event.fileName() == "" {
		if json.Unmarshal(body, &payload) != nil {
			payload = string(body)
		}
		logger.CtxWarn(ctx, "Webhook without file name: client_ip=%s", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file info", "payload": payload})
		return
	}

	if !h.hasCredentials {
		logger.CtxError(ctx, "Vision API key is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.ErrMissingCredentials.Error()})
		return
	}

	name := event.fileName()
	logger.CtxInfo(ctx, "Upload event received: file_name=%s", name)

	// The pipeline finishes even if the caller disconnects.
	result, err := h.processor.Process(context.WithoutCancel(ctx), name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrMissingFileName) {
			status = http.StatusBadRequest
		}
		logger.FromContext(ctx).WithError(err).Error("Image pipeline failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if result.Skipped {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Already processed",
			"id":      result.ID,
			"skipped": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"id":        result.ID,
		"image_url": result.ImageURL,
	})
}

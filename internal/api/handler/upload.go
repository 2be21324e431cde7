package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/service"
	"github.com/timmy/flashtag/internal/storage"
)

// UploadHandler stores browser uploads in the bucket.
type UploadHandler struct {
	objects   storage.ObjectStorage
	resizer   *service.ImageResizer
	processor ImageProcessor
	maxBytes  int64
}

// NewUploadHandler creates an upload handler. processor may be nil; when set,
// the pipeline runs in the background for every stored file.
func NewUploadHandler(objects storage.ObjectStorage, resizer *service.ImageResizer, processor ImageProcessor, maxBytes int64) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &UploadHandler{
		objects:   objects,
		resizer:   resizer,
		processor: processor,
		maxBytes:  maxBytes,
	}
}

// Upload handles POST /upload with a multipart "file" field.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *UploadHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No file uploaded"})
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "File must be an image"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Could not read file"})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Could not read file"})
		return
	}

	img := h.resizer.Resize(ctx, data, contentType)
	key := service.UploadKey(uuid.NewString(), img, fh.Filename)

	if err := h.objects.Upload(ctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), img.ContentType); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to store upload")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Upload failed"})
		return
	}

	logger.With(logger.Fields{
		"original_name": fh.Filename,
		"resized":       img.Resized,
	}).WithSize(int64(len(img.Data))).Info(ctx, "Upload stored: key=%s", key)

	if h.processor != nil {
		go func(ctx context.Context) {
			if _, err := h.processor.Process(ctx, key); err != nil {
				logger.FromContext(ctx).WithError(err).Error("Background pipeline failed")
			}
		}(context.WithoutCancel(ctx))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "filename": key})
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/flashtag/internal/service"
)

// Gallery serves stored images.
type Gallery interface {
	ListImages(ctx context.Context, limit, offset int) (*service.GalleryResponse, error)
	GetImage(ctx context.Context, id string) (*service.GalleryImage, error)
}

// ImageHandler handles gallery endpoints.
type ImageHandler struct {
	gallery Gallery
}

// NewImageHandler creates a new image handler.
func NewImageHandler(gallery Gallery) *ImageHandler {
	return &ImageHandler{gallery: gallery}
}

// ListImages handles GET /api/images.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *ImageHandler) ListImages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	result, err := h.gallery.ListImages(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list images: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetImage handles GET /api/images/:id.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *ImageHandler) GetImage(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image ID is required"})
		return
	}

	img, err := h.gallery.GetImage(c.Request.Context(), id)
	if errors.Is(err, service.ErrImageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, img)
}

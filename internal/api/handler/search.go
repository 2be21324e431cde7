package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/flashtag/internal/service"
)

// Searcher runs semantic queries over analyzed images.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, category string) (*service.SearchResponse, error)
}

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searcher: search service instance.
//
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// Search handles GET /api/search?q=&top_k=&category=.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}

	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be an integer"})
			return
		}
		topK = n
	}

	result, err := h.searcher.Search(c.Request.Context(), query, topK, c.Query("category"))
	if errors.Is(err, service.ErrSearchDisabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

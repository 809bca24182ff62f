package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/categorizer/internal/model"
)

type TaxonomyLister interface {
	List(ctx context.Context) ([]model.Label, error)
}

type TaxonomyHandler struct {
	labels TaxonomyLister
}

func NewTaxonomyHandler(labels TaxonomyLister) *TaxonomyHandler {
	return &TaxonomyHandler{labels: labels}
}

type labelResponse struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

type listLabelsResponse struct {
	Labels []labelResponse `json:"labels"`
	Total  int             `json:"total"`
}

// List returns the persisted taxonomy in insertion order.
func (h *TaxonomyHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	labels, err := h.labels.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list labels", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list labels"})
		return
	}

	resp := listLabelsResponse{
		Labels: make([]labelResponse, 0, len(labels)),
		Total:  len(labels),
	}
	for _, l := range labels {
		resp.Labels = append(resp.Labels, labelResponse{
			ID:          l.ID,
			Key:         l.Key,
			Description: l.Description,
		})
	}

	c.JSON(http.StatusOK, resp)
}

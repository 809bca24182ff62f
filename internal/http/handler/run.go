package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/categorizer/internal/model"
	"basegraph.app/categorizer/internal/pipeline"
	"basegraph.app/categorizer/internal/worker"
)

// RunTrigger is satisfied by *worker.Worker.
type RunTrigger interface {
	Trigger(ctx context.Context) error
	Running() bool
	LastResult() *pipeline.RunResult
}

type RunLister interface {
	ListRecent(ctx context.Context, limit int32) ([]model.PipelineRun, error)
}

type RunHandler struct {
	trigger RunTrigger
	history RunLister
}

func NewRunHandler(trigger RunTrigger, history RunLister) *RunHandler {
	return &RunHandler{trigger: trigger, history: history}
}

// Create starts a categorization run without waiting for it.
func (h *RunHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.trigger.Trigger(ctx); err != nil {
		if errors.Is(err, worker.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
			return
		}
		if errors.Is(err, worker.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker is shutting down"})
			return
		}
		slog.ErrorContext(ctx, "failed to trigger run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger run"})
		return
	}

	slog.InfoContext(ctx, "run triggered via admin API")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type lastRunResponse struct {
	Running bool                `json:"running"`
	Result  *pipeline.RunResult `json:"result"`
}

func (h *RunHandler) Last(c *gin.Context) {
	result := h.trigger.LastResult()
	if result == nil && !h.trigger.Running() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run has finished yet"})
		return
	}

	c.JSON(http.StatusOK, lastRunResponse{
		Running: h.trigger.Running(),
		Result:  result,
	})
}

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

type listRunsResponse struct {
	Runs []model.PipelineRun `json:"runs"`
}

// List returns the most recent runs, newest first.
func (h *RunHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.history.ListRecent(ctx, int32(limit))
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, listRunsResponse{Runs: runs})
}

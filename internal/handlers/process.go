package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/dedupe"
	"github.com/tendant/simple-image-forensics/internal/workflows"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// ProcessHandler serves the workflow endpoints. With async set, requests
// are enqueued on DBOS; otherwise they run inline.
type ProcessHandler struct {
	runner  *workflows.WorkflowRunner
	tracker dedupe.Tracker
	async   bool
	logger  zerolog.Logger
}

func NewProcessHandler(runner *workflows.WorkflowRunner, tracker dedupe.Tracker, async bool, logger zerolog.Logger) *ProcessHandler {
	return &ProcessHandler{
		runner:  runner,
		tracker: tracker,
		async:   async,
		logger:  logger.With().Str("component", "process").Logger(),
	}
}

// Process handles POST /v1/process.
func (h *ProcessHandler) Process(c *gin.Context) {
	var req pipeline.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if req.ContentID == "" && req.ObjectKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_id or object_key is required"})
		return
	}
	if req.Job == "" {
		req.Job = pipeline.JobIngest
	}

	ctx := c.Request.Context()
	log := h.logger.With().Str("content_id", req.ContentID).Str("job", req.Job).Logger()

	seen := 0
	if h.tracker != nil && req.ContentHash != nil && *req.ContentHash != "" {
		n, err := h.tracker.SeenCount(ctx, *req.ContentHash)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read dedupe count")
		}
		seen = n
	}

	if h.async {
		runID, err := h.runner.RunAsync(ctx, req)
		if err != nil {
			log.Error().Err(err).Msg("Failed to enqueue workflow")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue workflow: " + err.Error()})
			return
		}
		log.Info().Str("run_id", runID).Msg("Workflow enqueued")
		c.JSON(http.StatusAccepted, pipeline.ProcessResponse{RunID: runID, DedupeSeenCount: seen})
		return
	}

	runID := uuid.NewString()
	result, err := h.runner.Run(&workflows.WorkflowContext{Ctx: ctx, Request: req, RunID: runID})
	switch {
	case errors.Is(err, workflows.ErrWorkflowNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job: " + req.Job})
		return
	case errors.Is(err, workflows.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "run_id": runID})
		return
	case err != nil:
		log.Error().Err(err).Str("run_id", runID).Msg("Workflow execution failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run_id": runID})
		return
	case !result.Success:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Error, "run_id": runID})
		return
	}

	if n, err := strconv.Atoi(result.Outputs["dedupe_seen_count"]); err == nil {
		seen = n
	}
	c.JSON(http.StatusOK, pipeline.ProcessResponse{RunID: runID, DedupeSeenCount: seen})
}

// Status handles GET /v1/runs/:id.
func (h *ProcessHandler) Status(c *gin.Context) {
	runID := c.Param("id")

	status, err := h.runner.GetStatus(c.Request.Context(), runID)
	if errors.Is(err, workflows.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get workflow status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/engine"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/report"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
)

// RunHandler handles test run endpoints
type RunHandler struct {
	service engine.ExecutionService
	reports *report.Service
}

// NewRunHandler creates a new run handler
func NewRunHandler(service engine.ExecutionService, reports *report.Service) *RunHandler {
	return &RunHandler{
		service: service,
		reports: reports,
	}
}

// SubmitRun queues a new test run
func (h *RunHandler) SubmitRun(c *gin.Context) {
	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	record, err := h.service.SubmitTest(c.Request.Context(), req.ToSubmitRequest())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	AcceptedResponse(c, ToTestRunDTO(record))
}

// ListRuns lists runs with optional filtering
func (h *RunHandler) ListRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := &store.RunFilter{
		TestID:      c.Query("test_id"),
		Environment: c.Query("environment"),
		Status:      c.Query("status"),
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			BadRequestResponse(c, "Invalid 'since' timestamp, expected RFC3339")
			return
		}
		filter.Since = t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			BadRequestResponse(c, "Invalid 'until' timestamp, expected RFC3339")
			return
		}
		filter.Until = t
	}

	pagination := &store.Pagination{
		Page:     page,
		PageSize: pageSize,
	}

	runs, total, err := h.service.ListRuns(c.Request.Context(), filter, pagination)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	dtos := make([]*TestRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = ToTestRunDTO(run)
	}

	PaginatedResponse(c, dtos, page, pageSize, total)
}

// GetRunSummary returns aggregate run counts
func (h *RunHandler) GetRunSummary(c *gin.Context) {
	summary, err := h.service.GetRunSummary(c.Request.Context(), c.Query("environment"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, summary)
}

// GetRun retrieves a run by ID
func (h *RunHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "Invalid run ID")
		return
	}

	record, err := h.service.GetRun(c.Request.Context(), runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, ToTestRunDTO(record))
}

// GetRunStatus reports live or stored progress for a run
func (h *RunHandler) GetRunStatus(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "Invalid run ID")
		return
	}

	status, err := h.service.GetRunStatus(c.Request.Context(), runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, status)
}

// GetRunSteps retrieves the step results of a run
func (h *RunHandler) GetRunSteps(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "Invalid run ID")
		return
	}

	steps, err := h.service.GetRunSteps(c.Request.Context(), runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	dtos := make([]*StepResultDTO, len(steps))
	for i, step := range steps {
		dtos[i] = ToStepResultDTO(step)
	}

	SuccessResponse(c, dtos)
}

// GetRunRecovery retrieves the recovery events of a run
func (h *RunHandler) GetRunRecovery(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "Invalid run ID")
		return
	}

	events, err := h.service.GetRunRecovery(c.Request.Context(), runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	dtos := make([]*RecoveryEventDTO, len(events))
	for i, event := range events {
		dtos[i] = ToRecoveryEventDTO(event)
	}

	SuccessResponse(c, dtos)
}

// PauseRun pauses a running test at its next step boundary
func (h *RunHandler) PauseRun(c *gin.Context) {
	record, ok := h.resolveRun(c)
	if !ok {
		return
	}

	if err := h.service.PauseRun(c.Request.Context(), record.TestID); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, map[string]string{
		"message": "Test run paused",
	})
}

// ResumeRun resumes a paused test run
func (h *RunHandler) ResumeRun(c *gin.Context) {
	record, ok := h.resolveRun(c)
	if !ok {
		return
	}

	if err := h.service.ResumeRun(c.Request.Context(), record.TestID); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, map[string]string{
		"message": "Test run resumed",
	})
}

// CancelRun cancels a queued or running test
func (h *RunHandler) CancelRun(c *gin.Context) {
	record, ok := h.resolveRun(c)
	if !ok {
		return
	}

	if err := h.service.CancelRun(c.Request.Context(), record.TestID); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, map[string]string{
		"message": "Test run cancelled",
	})
}

// ExportRun renders a finished run as a downloadable report
func (h *RunHandler) ExportRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "Invalid run ID")
		return
	}

	format, err := report.ParseFormat(c.DefaultQuery("format", "json"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	ctx := c.Request.Context()

	record, err := h.service.GetRun(ctx, runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if !record.Finished() {
		BadRequestResponse(c, "Test run has not finished yet")
		return
	}

	steps, err := h.service.GetRunSteps(ctx, runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	events, err := h.service.GetRunRecovery(ctx, runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	result, err := h.reports.Export(ctx, &report.RunReport{
		Run:      record,
		Steps:    steps,
		Recovery: events,
	}, format)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	CreatedResponse(c, result)
}

// GetServiceStats returns execution service statistics
func (h *RunHandler) GetServiceStats(c *gin.Context) {
	stats, err := h.service.GetServiceStats(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, stats)
}

// resolveRun loads the run record for the :id route parameter. Pause,
// resume, and cancel act on the run's test ID, which is how the engine
// tracks in-flight work.
func (h *RunHandler) resolveRun(c *gin.Context) (*store.TestRunRecord, bool) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "Invalid run ID")
		return nil, false
	}

	record, err := h.service.GetRun(c.Request.Context(), runID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return nil, false
	}

	return record, true
}

package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/pkg/domain"
)

// StartRequest represents a workflow start request
type StartRequest struct {
	Definition *domain.WorkflowDefinition `json:"definition" binding:"required"`
	Input      map[string]interface{}     `json:"input"`
}

// ResumeRequest carries the context patch applied before resuming
type ResumeRequest struct {
	Context map[string]interface{} `json:"context"`
}

// DefinitionRequest wraps a definition for the definition tooling endpoints
type DefinitionRequest struct {
	Definition *domain.WorkflowDefinition `json:"definition" binding:"required"`
}

// TemplateRequest instantiates a template
type TemplateRequest struct {
	TemplateID string                 `json:"template_id" binding:"required"`
	Variables  map[string]interface{} `json:"variables"`
}

// DescribeRequest carries a free-text workflow description
type DescribeRequest struct {
	Description string `json:"description" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// writeError maps the domain error taxonomy onto HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	detail := ErrorDetail{Code: "INTERNAL_ERROR", Message: err.Error()}

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		detail.Code = "VALIDATION_FAILED"
		detail.Details = verr.Errors
	case errors.Is(err, domain.ErrBackPressure):
		status = http.StatusTooManyRequests
		detail.Code = "BACK_PRESSURE"
	case errors.Is(err, domain.ErrExecutionNotFound), errors.Is(err, domain.ErrStateNotFound):
		status = http.StatusNotFound
		detail.Code = "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidStatus):
		status = http.StatusConflict
		detail.Code = "INVALID_STATUS"
	case errors.Is(err, domain.ErrDocumentNotFound):
		status = http.StatusNotFound
		detail.Code = "NOT_FOUND"
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: detail})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	st := s.health.GetStatus()
	code, status := http.StatusOK, "healthy"
	if !st.Healthy {
		code, status = http.StatusServiceUnavailable, "unhealthy"
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": st.Timestamp,
		"checks":    st,
	})
}

// handleStartWorkflow validates a definition and starts an execution
func (s *Server) handleStartWorkflow(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	x, err := s.engine.Start(c.Request.Context(), req.Definition, req.Input)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, x)
}

// handleListWorkflows lists tracked executions, optionally filtered by status
func (s *Server) handleListWorkflows(c *gin.Context) {
	status := domain.ExecutionStatus(c.Query("status"))

	all := s.engine.List()
	out := make([]*domain.WorkflowExecution, 0, len(all))
	for _, x := range all {
		if status == "" || x.Status == status {
			out = append(out, x)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": out,
		"total":      len(out),
	})
}

// handleGetWorkflow returns an execution snapshot
func (s *Server) handleGetWorkflow(c *gin.Context) {
	x, err := s.engine.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, x)
}

// handleCancelWorkflow cancels a non-terminal execution
func (s *Server) handleCancelWorkflow(c *gin.Context) {
	id := c.Param("id")

	if err := s.engine.Cancel(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id": id,
		"status":       domain.ExecutionStatusCancelled,
		"cancelled_at": time.Now().UTC(),
	})
}

// handleResumeWorkflow resumes a paused execution
func (s *Server) handleResumeWorkflow(c *gin.Context) {
	var req ResumeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	x, err := s.engine.Resume(c.Request.Context(), c.Param("id"), req.Context)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, x)
}

// handleAnalyze returns the structural analysis of a definition
func (s *Server) handleAnalyze(c *gin.Context) {
	var req DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	g, err := graph.FromDefinition(req.Definition)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.AnalyzeGraph())
}

// handleExport renders a definition as json, yaml, dot or mermaid
func (s *Server) handleExport(c *gin.Context) {
	var req DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	format := graph.ExportFormat(c.DefaultQuery("format", string(graph.ExportJSON)))
	g, err := graph.FromDefinition(req.Definition)
	if err != nil {
		s.writeError(c, err)
		return
	}

	data, err := g.Export(format)
	if err != nil {
		badRequest(c, err)
		return
	}

	contentType := "text/plain; charset=utf-8"
	switch format {
	case graph.ExportJSON:
		contentType = "application/json"
	case graph.ExportYAML:
		contentType = "application/yaml"
	}
	c.Data(http.StatusOK, contentType, data)
}

// handleFromTemplate instantiates a catalogue template
func (s *Server) handleFromTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	def, err := s.orchestrator.FromTemplate(req.TemplateID, req.Variables)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"definition": def})
}

// handleFromDescription generates a definition from free text
func (s *Server) handleFromDescription(c *gin.Context) {
	var req DescribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	def, intent, err := s.orchestrator.FromDescription(req.Description)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"definition": def,
		"intent":     intent,
	})
}

// handleComposite generates a composite workflow
func (s *Server) handleComposite(c *gin.Context) {
	var req orchestrator.CompositeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	def, err := s.orchestrator.Composite(req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"definition": def})
}

// handleOptimize returns optimization suggestions from recorded metrics
func (s *Server) handleOptimize(c *gin.Context) {
	var req DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	suggestions, err := s.orchestrator.Optimize(req.Definition)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"definition_id": req.Definition.ID,
		"suggestions":   suggestions,
	})
}

// handleListTemplates lists the template catalogue
func (s *Server) handleListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.orchestrator.Templates()})
}

// handleListActors lists registered actors
func (s *Server) handleListActors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actors": s.engine.Actors().Names()})
}

// handleGetActorState returns an actor's current state record
func (s *Server) handleGetActorState(c *gin.Context) {
	rec, err := s.engine.Store().GetCurrentState(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleGetActorHistory returns an actor's state history, newest last
func (s *Server) handleGetActorHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	id := c.Param("id")
	history := s.engine.Store().GetStateHistory(id, limit)
	c.JSON(http.StatusOK, gin.H{
		"owner_id": id,
		"history":  history,
	})
}

// handleCreateSnapshot writes a snapshot of the state store
func (s *Server) handleCreateSnapshot(c *gin.Context) {
	snap, err := s.engine.Store().SaveSnapshot(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         snap.ID,
		"created_at": snap.CreatedAt,
		"checksum":   snap.Checksum,
		"owners":     len(snap.States),
	})
}

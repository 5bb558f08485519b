package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/application/supervisor"
	"github.com/aescanero/teamflow/internal/application/workers"
	"github.com/aescanero/teamflow/internal/domain"
)

const userIDHeader = "X-User-ID"

// InputRequest represents a supervisor input submission
type InputRequest struct {
	UserID   string                 `json:"user_id"`
	Type     string                 `json:"type"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

// InputResponse reports the outcome of a supervisor run
type InputResponse struct {
	SessionID   string                  `json:"session_id"`
	Status      domain.SessionStatus    `json:"status"`
	Stage       string                  `json:"stage,omitempty"`
	Routing     *domain.RoutingDecision `json:"routing,omitempty"`
	Result      domain.Payload          `json:"result,omitempty"`
	Error       *domain.StageError      `json:"error,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
}

// TriggerRequest represents a master workflow trigger
type TriggerRequest struct {
	UserID string                 `json:"user_id"`
	Type   string                 `json:"type" binding:"required"`
	Data   map[string]interface{} `json:"data"`
}

// TriggerAccepted is returned for asynchronously enqueued triggers
type TriggerAccepted struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// ResumeRequest carries the external event data for a halted workflow
type ResumeRequest struct {
	Data map[string]interface{} `json:"data"`
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

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status, overall, workersStatus := http.StatusOK, "healthy", "ok"
	if s.health != nil && !s.health.IsHealthy() {
		status, overall, workersStatus = http.StatusServiceUnavailable, "unhealthy", "degraded"
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"workers": workersStatus,
		},
	})
}

// handleProcessInput runs an input through the supervisor
func (s *Server) handleProcessInput(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	input := domain.Input{
		Kind:     domain.ParseInputKind(req.Type),
		Content:  req.Content,
		Metadata: req.Metadata,
	}

	st, err := s.supervisor.ProcessInput(c.Request.Context(), input, userID(c, req.UserID))
	if st == nil {
		s.writeError(c, err)
		return
	}
	if err != nil {
		s.logger.Warn("input processing ended with error",
			zap.String("session_id", st.SessionID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, newInputResponse(st))
}

// handleGetSession returns a persisted session
func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.supervisor.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// handleStartWorkflow starts a master workflow and waits until it halts,
// fails or completes
func (s *Server) handleStartWorkflow(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	trigger := domain.Trigger{Type: domain.TriggerKind(req.Type), Data: req.Data}
	st, err := s.workflows.Start(c.Request.Context(), userID(c, req.UserID), trigger)
	if st == nil {
		s.writeError(c, err)
		return
	}
	if err != nil {
		s.logger.Warn("master workflow ended with error",
			zap.String("master_session_id", st.MasterSessionID),
			zap.Error(err))
	}

	c.JSON(http.StatusCreated, st)
}

// handleEnqueueTrigger publishes a trigger for the worker pool
func (s *Server) handleEnqueueTrigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	trigger := domain.Trigger{Type: domain.TriggerKind(req.Type), Data: req.Data}
	if _, ok := trigger.StartPhase(); !ok {
		s.writeError(c, fmt.Errorf("%w: unsupported trigger type %q", domain.ErrValidation, req.Type))
		return
	}

	event := workers.NewTriggerEvent(userID(c, req.UserID), trigger)
	if err := s.eventBus.Publish(c.Request.Context(), domain.TopicTriggers, event); err != nil {
		s.logger.Error("failed to enqueue trigger", zap.Error(err))
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, TriggerAccepted{EventID: event.ID, Status: "queued"})
}

// handleGetWorkflow returns master workflow state
func (s *Server) handleGetWorkflow(c *gin.Context) {
	st, err := s.workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// handleResumeWorkflow resumes a halted or failed workflow
func (s *Server) handleResumeWorkflow(c *gin.Context) {
	var req ResumeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}

	st, err := s.workflows.Resume(c.Request.Context(), c.Param("id"), req.Data)
	if err != nil && (st == nil || errors.Is(err, domain.ErrValidation)) {
		s.writeError(c, err)
		return
	}
	if err != nil {
		s.logger.Warn("resumed workflow ended with error",
			zap.String("master_session_id", st.MasterSessionID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, st)
}

// handleListRules returns the active transition rules
func (s *Server) handleListRules(c *gin.Context) {
	rules := s.workflows.Rules()
	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"count": len(rules),
	})
}

// handleListTeams returns the registered team names
func (s *Server) handleListTeams(c *gin.Context) {
	names := s.teams.Names()
	c.JSON(http.StatusOK, gin.H{
		"teams": names,
		"count": len(names),
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.logger.Error("invalid request", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// writeError maps domain sentinels onto status codes
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrSessionNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrHandlerNotFound):
		status, code = http.StatusUnprocessableEntity, "HANDLER_NOT_FOUND"
	default:
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

func userID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := c.GetHeader(userIDHeader); h != "" {
		return h
	}
	return "anonymous"
}

func newInputResponse(st *supervisor.State) InputResponse {
	return InputResponse{
		SessionID:   st.SessionID,
		Status:      st.Status,
		Stage:       st.Stage,
		Routing:     st.Decision,
		Result:      st.Result,
		Error:       st.Error,
		StartedAt:   st.StartedAt,
		CompletedAt: st.CompletedAt,
	}
}

package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/council/internal/application/orchestrator"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SubmitRequest represents a prompt submission
type SubmitRequest struct {
	Prompt string `json:"prompt"`
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
	snap := s.deliberator.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"orchestrator": "ok",
			"stage":        snap.Stage,
		},
	})
}

// handleGetSnapshot returns the current deliberation snapshot
func (s *Server) handleGetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.deliberator.Snapshot())
}

// handleSubmit handles prompt submission
func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	if err := s.deliberator.Submit(c.Request.Context(), req.Prompt); err != nil {
		status, code := submitErrorStatus(err)
		c.JSON(status, ErrorResponse{
			Error: ErrorDetail{
				Code:    code,
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusAccepted, s.deliberator.Snapshot())
}

// handleReset discards the current deliberation
func (s *Server) handleReset(c *gin.Context) {
	s.deliberator.Reset()
	c.JSON(http.StatusOK, s.deliberator.Snapshot())
}

func submitErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrDeliberationInProgress):
		return http.StatusConflict, "DELIBERATION_IN_PROGRESS"
	case errors.Is(err, orchestrator.ErrInvalidSubmission):
		return http.StatusBadRequest, "INVALID_SUBMISSION"
	case errors.Is(err, orchestrator.ErrSubmissionReset):
		return http.StatusConflict, "SUBMISSION_RESET"
	case errors.Is(err, orchestrator.ErrSessionCreationFailed):
		return http.StatusBadGateway, "SESSION_CREATION_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

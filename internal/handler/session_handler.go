package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// SessionHandler exposes the session engine over HTTP.
type SessionHandler struct {
	registry *service.SessionRegistry
	monitor  service.MonitorPublisher
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *service.SessionRegistry, monitor service.MonitorPublisher, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		monitor:  monitor,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// coordinator resolves the route's assessment for the calling student.
// It writes the error response and returns nil when the request is invalid.
func (h *SessionHandler) coordinator(c *gin.Context) *service.Coordinator {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil
	}

	assessmentType := model.AssessmentType(c.Param("type"))
	if !assessmentType.Valid() {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidAssessmentType)
		return nil
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil
	}

	return h.registry.Get(claims.UserID, assessmentType, assessmentID.String())
}

// opened is coordinator plus an implicit open for runs not yet in memory.
func (h *SessionHandler) opened(c *gin.Context) *service.Coordinator {
	co := h.coordinator(c)
	if co == nil {
		return nil
	}
	if err := co.EnsureOpen(c.Request.Context()); err != nil {
		failFromError(c, h.log, err)
		return nil
	}
	return co
}

// OpenSession godoc
// POST /api/v1/student/assessments/:type/:assessment_id/open
// Loads or starts the run and reconciles it with the current questions.
func (h *SessionHandler) OpenSession(c *gin.Context) {
	co := h.coordinator(c)
	if co == nil {
		return
	}

	view, err := co.Open(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	publishMonitorEvent(c.Request.Context(), h.monitor, h.log, co, service.MonitorEvent{
		Type:      service.MonitorEventJoined,
		AttemptID: view.Record.AttemptID,
		Answered:  len(view.Record.Answers),
	})

	response.Success(c, http.StatusOK, view)
}

// GetState godoc
// GET /api/v1/student/assessments/:type/:assessment_id/state
// Returns the current session, opening it first after a restart.
func (h *SessionHandler) GetState(c *gin.Context) {
	co := h.opened(c)
	if co == nil {
		return
	}

	view, err := co.View()
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SaveAnswer godoc
// PUT /api/v1/student/assessments/:type/:assessment_id/answers/:question_id
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	co := h.opened(c)
	if co == nil {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := co.SaveAnswer(c.Request.Context(), c.Param("question_id"), *req.Value)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SubmitQuestion godoc
// POST /api/v1/student/assessments/:type/:assessment_id/answers/:question_id/submit
// Confirms one question. Fails when it has no answer.
func (h *SessionHandler) SubmitQuestion(c *gin.Context) {
	co := h.opened(c)
	if co == nil {
		return
	}

	view, err := co.SubmitQuestion(c.Request.Context(), c.Param("question_id"))
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Navigate godoc
// POST /api/v1/student/assessments/:type/:assessment_id/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	co := h.opened(c)
	if co == nil {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := co.Navigate(c.Request.Context(), *req.Index)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// StartTimer godoc
// POST /api/v1/student/assessments/:type/:assessment_id/timer/start
func (h *SessionHandler) StartTimer(c *gin.Context) {
	co := h.opened(c)
	if co == nil {
		return
	}

	view, err := co.StartTimer(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// PauseTimer godoc
// POST /api/v1/student/assessments/:type/:assessment_id/timer/pause
func (h *SessionHandler) PauseTimer(c *gin.Context) {
	co := h.opened(c)
	if co == nil {
		return
	}

	view, err := co.PauseTimer(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Submit godoc
// POST /api/v1/student/assessments/:type/:assessment_id/submit
// Final submission. Answers confirmation_required until the client confirms
// submitting with unanswered questions.
func (h *SessionHandler) Submit(c *gin.Context) {
	co := h.opened(c)
	if co == nil {
		return
	}

	var req model.SubmitRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	result, err := co.Submit(c.Request.Context(), service.SubmitOptions{Confirmed: req.Confirmed})
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	if result.Status != model.SubmitStatusConfirmationRequired {
		h.publishSubmitted(c.Request.Context(), co, result)
	}
	response.Success(c, http.StatusOK, result)
}

// ResetSession godoc
// DELETE /api/v1/student/assessments/:type/:assessment_id
// Discards all local progress, including the completion flag.
func (h *SessionHandler) ResetSession(c *gin.Context) {
	co := h.coordinator(c)
	if co == nil {
		return
	}

	view, err := co.Reset(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ListSessions godoc
// GET /api/v1/student/sessions
// Lists the student's stored, unfinished sessions, most recent first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessions, err := h.registry.ListInProgress(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

func (h *SessionHandler) publishSubmitted(ctx context.Context, co *service.Coordinator, result *model.SubmitResult) {
	publishMonitorEvent(ctx, h.monitor, h.log, co, service.MonitorEvent{
		Type:      service.MonitorEventSubmitted,
		AttemptID: result.AttemptID,
		Status:    result.Status,
	})
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// classify maps a session engine error to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrNotLoaded):
		return http.StatusConflict, response.ErrSessionNotOpen
	case errors.Is(err, service.ErrNoAnswerProvided):
		return http.StatusUnprocessableEntity, response.ErrNoAnswerProvided
	case errors.Is(err, service.ErrQuestionOutOfRange):
		return http.StatusUnprocessableEntity, response.ErrQuestionOutOfRange
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusNotFound, response.ErrUnknownQuestion
	case errors.Is(err, service.ErrAlreadyCompleted), errors.Is(err, service.ErrAttemptAlreadyCompleted):
		return http.StatusConflict, response.ErrAssessmentDone
	case errors.Is(err, service.ErrAttemptImmutable):
		return http.StatusConflict, response.ErrAttemptConflict
	case errors.Is(err, service.ErrPartialFlush):
		return http.StatusBadGateway, response.ErrPartialFlush
	case errors.Is(err, service.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, response.ErrRemoteUnavailable
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failFromError writes the error response for err, logging server faults.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Session request failed")
	}
	response.Fail(c, status, code)
}

// publishMonitorEvent forwards event to the live monitor. Failures are logged
// and never fail the request.
func publishMonitorEvent(ctx context.Context, monitor service.MonitorPublisher, log zerolog.Logger, co *service.Coordinator, event service.MonitorEvent) {
	if monitor == nil {
		return
	}
	event.StudentID = co.StudentID()
	if err := monitor.Publish(ctx, co.AssessmentID(), event); err != nil {
		log.Warn().Err(err).Str("assessment_id", co.AssessmentID()).Msg("Monitor publish failed")
	}
}

package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins.
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one assessment run over a WebSocket.
type WSHandler struct {
	registry *service.SessionRegistry
	monitor  service.MonitorPublisher
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *service.SessionRegistry, monitor service.MonitorPublisher, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		monitor:  monitor,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AssessmentStream godoc
// WS /ws/v1/student/assessments/:type/:assessment_id/stream
// Upgrades to WebSocket for autosave, navigation and submission.
func (h *WSHandler) AssessmentStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentType := model.AssessmentType(c.Param("type"))
	if !assessmentType.Valid() {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidAssessmentType)
		return
	}
	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	co := h.registry.Get(claims.UserID, assessmentType, assessmentID.String())

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("assessment_id", co.AssessmentID()).
		Logger()

	if err := co.EnsureOpen(ctx); err != nil {
		_, code := classify(err)
		ws.WriteError(conn, string(code), response.GetMessage(code))
		return
	}
	h.writeState(conn, co)

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, co, &msg)
		case ws.ActionNavigate:
			h.handleNavigate(ctx, conn, co, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, co, &msg)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, co *service.Coordinator, msg *ws.RequestPayload) {
	if msg.QID == "" {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "q_id is required")
		return
	}
	if _, err := co.SaveAnswer(ctx, msg.QID, msg.Answer); err != nil {
		h.writeError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.AutosaveResponse{
		Event:  ws.EventSuccess,
		Status: "saved",
		QID:    msg.QID,
	})
}

func (h *WSHandler) handleNavigate(ctx context.Context, conn *websocket.Conn, co *service.Coordinator, msg *ws.RequestPayload) {
	if msg.Index == nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "index is required")
		return
	}
	view, err := co.Navigate(ctx, *msg.Index)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: view})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, co *service.Coordinator, msg *ws.RequestPayload) {
	result, err := co.Submit(ctx, service.SubmitOptions{Confirmed: msg.Confirmed})
	if err != nil {
		h.writeError(conn, err)
		return
	}
	if result.Status != model.SubmitStatusConfirmationRequired {
		publishMonitorEvent(ctx, h.monitor, h.log, co, service.MonitorEvent{
			Type:      service.MonitorEventSubmitted,
			AttemptID: result.AttemptID,
			Status:    result.Status,
		})
	}
	ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Result: result})
}

func (h *WSHandler) writeState(conn *websocket.Conn, co *service.Coordinator) {
	view, err := co.View()
	if err != nil {
		h.writeError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: view})
}

func (h *WSHandler) writeError(conn *websocket.Conn, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Stream action failed")
	}
	ws.WriteError(conn, string(code), response.GetMessage(code))
}

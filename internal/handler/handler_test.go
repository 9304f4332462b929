package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/store"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAssessmentID = "5b0c4a57-2f53-4d1e-9d55-0c3a3f4f1a01"
	testStudentID    = 42
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// stubAPI is a minimal AssessmentAPI backed by maps.
type stubAPI struct {
	mu        sync.Mutex
	structure *model.AssessmentStructure
	responses map[string]string
	attempt   *model.Attempt
}

func newStubAPI() *stubAPI {
	return &stubAPI{
		structure: &model.AssessmentStructure{
			AssessmentID:     testAssessmentID,
			Type:             model.AssessmentTypeQuiz,
			Title:            "Kuis Pecahan",
			TimeLimitMinutes: 10,
			Questions: []model.Question{
				{ID: "q1", Type: model.QuestionTypeMultipleChoice, Text: "1/2 + 1/4?", OrderNum: 1},
				{ID: "q2", Type: model.QuestionTypeEssay, Text: "Jelaskan.", OrderNum: 2},
			},
		},
		responses: map[string]string{},
	}
}

func (s *stubAPI) GetAssessmentStructure(_ context.Context, id string, _ model.AssessmentType) (*model.AssessmentStructure, error) {
	if id != testAssessmentID {
		return nil, service.ErrNotFound
	}
	return s.structure, nil
}

func (s *stubAPI) StartQuizAttempt(_ context.Context, id string) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != nil && s.attempt.Status == model.AttemptStatusInProgress {
		return nil, &service.AttemptExistsError{AttemptID: s.attempt.ID}
	}
	s.attempt = &model.Attempt{ID: "attempt-1", AssessmentID: id, Status: model.AttemptStatusInProgress, StartedAt: time.Now()}
	return s.attempt, nil
}

func (s *stubAPI) SubmitQuizResponse(_ context.Context, _, qid, resp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[qid] = resp
	return nil
}

func (s *stubAPI) SubmitCompleteQuiz(context.Context, string, time.Time, map[string]string) (*model.Attempt, error) {
	return nil, service.ErrNotImplemented
}

func (s *stubAPI) CompleteQuizAttempt(_ context.Context, attemptID string) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.ID != attemptID {
		return nil, service.ErrNotFound
	}
	now := time.Now()
	s.attempt.Status = model.AttemptStatusCompleted
	s.attempt.FinishedAt = &now
	s.attempt.ResponseCount = len(s.responses)
	return s.attempt, nil
}

func (s *stubAPI) GetQuizAttempt(_ context.Context, attemptID string) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.ID != attemptID {
		return nil, nil
	}
	a := *s.attempt
	return &a, nil
}

// recordingMonitor captures published monitor events.
type recordingMonitor struct {
	mu     sync.Mutex
	events []service.MonitorEvent
}

func (m *recordingMonitor) Publish(_ context.Context, _ string, event service.MonitorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *recordingMonitor) types() []service.MonitorEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]service.MonitorEventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	router   *gin.Engine
	api      *stubAPI
	monitor  *recordingMonitor
	registry *service.SessionRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	api := newStubAPI()
	stores := map[int]store.Store{}
	var mu sync.Mutex
	registry := service.NewSessionRegistry(
		func(id int) store.Store {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := stores[id]; !ok {
				stores[id] = store.NewMemoryStore()
			}
			return stores[id]
		},
		func(int) service.AssessmentAPI { return api },
		service.CoordinatorOptions{Retry: service.RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}},
		zerolog.Nop(),
	)
	monitor := &recordingMonitor{}
	h := NewSessionHandler(registry, monitor, zerolog.Nop())

	r := gin.New()
	api1 := r.Group("/api/v1/student")
	api1.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: testStudentID})
		c.Next()
	})
	api1.GET("/sessions", h.ListSessions)
	g := api1.Group("/assessments/:type/:assessment_id")
	g.POST("/open", h.OpenSession)
	g.GET("/state", h.GetState)
	g.PUT("/answers/:question_id", h.SaveAnswer)
	g.POST("/answers/:question_id/submit", h.SubmitQuestion)
	g.POST("/navigate", h.Navigate)
	g.POST("/timer/start", h.StartTimer)
	g.POST("/timer/pause", h.PauseTimer)
	g.POST("/submit", h.Submit)
	g.DELETE("", h.ResetSession)

	return &testEnv{router: r, api: api, monitor: monitor, registry: registry}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func quizPath(suffix string) string {
	return fmt.Sprintf("/api/v1/student/assessments/quiz/%s%s", testAssessmentID, suffix)
}

func TestSessionHandler_FullQuizRun(t *testing.T) {
	env := newTestEnv(t)

	code, res := env.do(t, http.MethodPost, quizPath("/open"), nil)
	require.Equal(t, http.StatusOK, code)
	var view model.SessionView
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.Equal(t, 600, view.RemainingSeconds)
	assert.Equal(t, 2, view.Unanswered)
	assert.Equal(t, "attempt-1", view.Record.AttemptID)

	code, _ = env.do(t, http.MethodPut, quizPath("/answers/q1"), gin.H{"value": "B"})
	require.Equal(t, http.StatusOK, code)

	code, res = env.do(t, http.MethodPost, quizPath("/submit"), nil)
	require.Equal(t, http.StatusOK, code)
	var result model.SubmitResult
	require.NoError(t, json.Unmarshal(res.Data, &result))
	assert.Equal(t, model.SubmitStatusConfirmationRequired, result.Status)
	assert.Equal(t, 1, result.Unanswered)

	code, res = env.do(t, http.MethodPost, quizPath("/submit"), gin.H{"confirmed": true})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(res.Data, &result))
	assert.Equal(t, model.SubmitStatusCompleted, result.Status)
	assert.Equal(t, "attempt-1", result.AttemptID)
	assert.Equal(t, "B", env.api.responses["q1"])

	code, res = env.do(t, http.MethodPost, quizPath("/submit"), gin.H{"confirmed": true})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(res.Data, &result))
	assert.Equal(t, model.SubmitStatusAlreadyCompleted, result.Status)

	assert.Equal(t, []service.MonitorEventType{
		service.MonitorEventJoined,
		service.MonitorEventSubmitted,
		service.MonitorEventSubmitted,
	}, env.monitor.types())
}

func TestSessionHandler_GetStateOpensImplicitly(t *testing.T) {
	env := newTestEnv(t)

	code, res := env.do(t, http.MethodGet, quizPath("/state"), nil)
	require.Equal(t, http.StatusOK, code)

	var view model.SessionView
	require.NoError(t, json.Unmarshal(res.Data, &view))
	require.NotNil(t, view.Record)
	assert.Len(t, view.Record.TaskStates, 2)
	assert.Equal(t, 1, env.registry.Len())
}

func TestSessionHandler_RouteValidation(t *testing.T) {
	env := newTestEnv(t)

	code, res := env.do(t, http.MethodPost, "/api/v1/student/assessments/exam/"+testAssessmentID+"/open", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ASSESSMENT_TYPE", res.Error.Code)

	code, res = env.do(t, http.MethodPost, "/api/v1/student/assessments/quiz/not-a-uuid/open", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ID", res.Error.Code)

	code, res = env.do(t, http.MethodPost, "/api/v1/student/assessments/quiz/00000000-0000-0000-0000-000000000000/open", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", res.Error.Code)
}

func TestSessionHandler_DomainErrors(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, quizPath("/open"), nil)
	require.Equal(t, http.StatusOK, code)

	code, res := env.do(t, http.MethodPut, quizPath("/answers/q1"), gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", res.Error.Code)
	assert.Contains(t, res.Error.Fields, "value")

	code, res = env.do(t, http.MethodPut, quizPath("/answers/q9"), gin.H{"value": "x"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "UNKNOWN_QUESTION", res.Error.Code)

	code, res = env.do(t, http.MethodPost, quizPath("/answers/q2/submit"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "NO_ANSWER_PROVIDED", res.Error.Code)

	code, res = env.do(t, http.MethodPost, quizPath("/navigate"), gin.H{"index": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "QUESTION_OUT_OF_RANGE", res.Error.Code)

	code, res = env.do(t, http.MethodPost, quizPath("/navigate"), gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", res.Error.Code)
}

func TestSessionHandler_QuestionSubmitAndNavigate(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, quizPath("/open"), nil)
	env.do(t, http.MethodPut, quizPath("/answers/q2"), gin.H{"value": "karena"})

	code, res := env.do(t, http.MethodPost, quizPath("/answers/q2/submit"), nil)
	require.Equal(t, http.StatusOK, code)
	var view model.SessionView
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.True(t, view.Record.TaskStates[1].IsSubmitted)
	assert.Equal(t, "karena", env.api.responses["q2"])

	code, res = env.do(t, http.MethodPost, quizPath("/navigate"), gin.H{"index": 1})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.Equal(t, 1, view.Record.CurrentQuestionIndex)
	assert.True(t, view.Record.TaskStates[1].IsViewed)
}

func TestSessionHandler_Timer(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, quizPath("/open"), nil)

	code, res := env.do(t, http.MethodPost, quizPath("/timer/start"), nil)
	require.Equal(t, http.StatusOK, code)
	var view model.SessionView
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.True(t, view.TimerRunning)

	code, res = env.do(t, http.MethodPost, quizPath("/timer/pause"), nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.False(t, view.TimerRunning)
}

func TestSessionHandler_ResetAndList(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, quizPath("/open"), nil)
	env.do(t, http.MethodPut, quizPath("/answers/q1"), gin.H{"value": "A"})

	code, res := env.do(t, http.MethodGet, "/api/v1/student/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Sessions []model.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "A", list.Sessions[0].Answers["q1"])

	code, res = env.do(t, http.MethodPut, quizPath("/answers/q1"), gin.H{"value": ""})
	require.Equal(t, http.StatusOK, code)
	var cleared model.SessionView
	require.NoError(t, json.Unmarshal(res.Data, &cleared))
	assert.Equal(t, 2, cleared.Unanswered)

	code, res = env.do(t, http.MethodDelete, quizPath(""), nil)
	require.Equal(t, http.StatusOK, code)
	var view model.SessionView
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.Empty(t, view.Record.Answers)
}

func TestSessionHandler_CompletedRunRejectsWrites(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, quizPath("/open"), nil)
	env.do(t, http.MethodPut, quizPath("/answers/q1"), gin.H{"value": "B"})
	code, _ := env.do(t, http.MethodPost, quizPath("/submit"), gin.H{"confirmed": true})
	require.Equal(t, http.StatusOK, code)

	code, res := env.do(t, http.MethodPut, quizPath("/answers/q2"), gin.H{"value": "terlambat"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ASSESSMENT_COMPLETED", res.Error.Code)

	code, res = env.do(t, http.MethodPost, quizPath("/answers/q1/submit"), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ASSESSMENT_COMPLETED", res.Error.Code)

	code, res = env.do(t, http.MethodPost, quizPath("/navigate"), gin.H{"index": 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ASSESSMENT_COMPLETED", res.Error.Code)

	code, res = env.do(t, http.MethodPost, quizPath("/timer/start"), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ASSESSMENT_COMPLETED", res.Error.Code)

	env.api.mu.Lock()
	_, late := env.api.responses["q2"]
	env.api.mu.Unlock()
	assert.False(t, late)
}

func TestClassify_CompletionErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code response.ErrCode
	}{
		{"local run completed", service.ErrAlreadyCompleted, response.ErrAssessmentDone},
		{"server attempt completed", fmt.Errorf("submit response: %w", service.ErrAttemptAlreadyCompleted), response.ErrAssessmentDone},
		{"attempt id conflict", service.ErrAttemptImmutable, response.ErrAttemptConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := classify(tc.err)
			assert.Equal(t, http.StatusConflict, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

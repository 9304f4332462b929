package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// CoordinatorOptions tunes a Coordinator.
type CoordinatorOptions struct {
	StaleAfter        time.Duration
	Retry             RetryPolicy
	ResetTimerOnDrift bool
	Now               func() time.Time

	// CompletedRetention keeps a submitted run in the registry so late
	// requests are answered as completed. IdleRetention applies to runs
	// that are open but untouched with a stopped timer.
	CompletedRetention time.Duration
	IdleRetention      time.Duration
}

// Default registry retention.
const (
	DefaultCompletedRetention = 10 * time.Minute
	DefaultIdleRetention      = 2 * time.Hour
)

// Coordinator drives one student's run through one assessment. It owns the
// session state, timer, attempt and submission components for that run.
type Coordinator struct {
	mu sync.Mutex

	studentID      int
	assessmentID   string
	assessmentType model.AssessmentType

	api      AssessmentAPI
	opts     CoordinatorOptions
	state    *SessionState
	timer    *TimerController
	attempts *AttemptCoordinator
	pipeline *SubmissionPipeline

	structure *model.AssessmentStructure

	// lastActive is unix nanoseconds of the last operation.
	lastActive atomic.Int64

	log zerolog.Logger
}

// NewCoordinator builds a coordinator over st, which must already be scoped
// to studentID.
func NewCoordinator(st store.Store, api AssessmentAPI, studentID int, assessmentID string, assessmentType model.AssessmentType, opts CoordinatorOptions, log zerolog.Logger) *Coordinator {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log = log.With().Int("student_id", studentID).Logger()

	state := NewSessionState(st, assessmentID, assessmentType, opts.StaleAfter, opts.Now, log)
	timer := NewTimerController(st, assessmentID, log)
	attempts := NewAttemptCoordinator(state, api, assessmentID, opts.Retry, log)

	c := &Coordinator{
		studentID:      studentID,
		assessmentID:   assessmentID,
		assessmentType: assessmentType,
		api:            api,
		opts:           opts,
		state:          state,
		timer:          timer,
		attempts:       attempts,
		pipeline:       NewSubmissionPipeline(state, timer, attempts, api, assessmentID, assessmentType, opts.Retry, log),
		log: log.With().
			Str("component", "coordinator").
			Str("assessment_id", assessmentID).
			Logger(),
	}
	c.touch()
	return c
}

func (c *Coordinator) touch() {
	c.lastActive.Store(c.opts.Now().UnixNano())
}

// LastActive returns the time of the last operation on the run.
func (c *Coordinator) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Completed reports whether the loaded run has been submitted.
func (c *Coordinator) Completed() bool {
	return c.state.Completed()
}

func (c *Coordinator) ensureWritable() error {
	if c.state.Completed() {
		return ErrAlreadyCompleted
	}
	return nil
}

func (c *Coordinator) StudentID() int                       { return c.studentID }
func (c *Coordinator) AssessmentID() string                 { return c.assessmentID }
func (c *Coordinator) AssessmentType() model.AssessmentType { return c.assessmentType }
func (c *Coordinator) Timer() *TimerController              { return c.timer }
func (c *Coordinator) Attempts() *AttemptCoordinator        { return c.attempts }

// OnExpire registers fn to run when the timer of this run reaches zero.
func (c *Coordinator) OnExpire(fn func(*Coordinator)) {
	c.timer.OnExpire(func() { fn(c) })
}

// Open loads or starts the run and reconciles it with the current content.
func (c *Coordinator) Open(ctx context.Context) (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	return c.openLocked(ctx)
}

// EnsureOpen opens the run unless it is already loaded in memory.
func (c *Coordinator) EnsureOpen(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if _, err := c.state.Record(); err == nil {
		return nil
	}
	_, err := c.openLocked(ctx)
	return err
}

func (c *Coordinator) openLocked(ctx context.Context) (*model.SessionView, error) {
	prior, err := c.attempts.DetectPriorCompletion(ctx)
	if err != nil {
		return nil, err
	}
	if prior {
		c.log.Info().Msg("Completed run found, local state will be discarded")
		c.attempts.Reset()
	}

	if _, err := c.state.Load(ctx); err != nil {
		return nil, err
	}

	structure, err := retryRemote(ctx, c.opts.Retry, func(ctx context.Context) (*model.AssessmentStructure, error) {
		return c.api.GetAssessmentStructure(ctx, c.assessmentID, c.assessmentType)
	}, func(s *model.AssessmentStructure) bool { return s == nil })
	if err != nil {
		return nil, fmt.Errorf("fetch structure: %w", err)
	}
	c.structure = structure

	drift, err := c.state.ReconcileWithContent(ctx, structure.Questions)
	if err != nil {
		return nil, err
	}

	if _, err := c.timer.Initialize(ctx, structure.TimeLimitMinutes); err != nil {
		return nil, err
	}
	if drift && c.opts.ResetTimerOnDrift {
		if err := c.timer.Reset(ctx, structure.TimeLimitMinutes); err != nil {
			return nil, err
		}
	}

	if c.assessmentType == model.AssessmentTypeQuiz {
		if _, err := c.attempts.EnsureAttempt(ctx); err != nil {
			// Submit ensures the attempt again.
			c.log.Warn().Err(err).Msg("Attempt not started on open")
		}
	}

	return c.viewLocked(drift)
}

func (c *Coordinator) viewLocked(contentReset bool) (*model.SessionView, error) {
	rec, err := c.state.Record()
	if err != nil {
		return nil, err
	}
	snap := c.timer.Snapshot()
	return &model.SessionView{
		Record:           rec,
		RemainingSeconds: snap.RemainingSeconds,
		TimerRunning:     snap.IsRunning,
		ContentReset:     contentReset,
		Unanswered:       len(c.state.UnansweredQuestions()),
		Structure:        c.structure,
	}, nil
}

// View returns the current state without touching the store.
func (c *Coordinator) View() (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	return c.viewLocked(false)
}

// SaveAnswer stores an answer for questionID.
func (c *Coordinator) SaveAnswer(ctx context.Context, questionID, value string) (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if _, err := c.state.SaveAnswer(ctx, questionID, value); err != nil {
		return nil, err
	}
	return c.viewLocked(false)
}

// SubmitQuestion confirms one question. Quizzes send the answer to the
// server before marking it locally.
func (c *Coordinator) SubmitQuestion(ctx context.Context, questionID string) (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if err := c.ensureWritable(); err != nil {
		return nil, err
	}
	answer, ok := c.state.Answer(questionID)
	if !ok || answer == "" {
		return nil, ErrNoAnswerProvided
	}

	if c.assessmentType == model.AssessmentTypeQuiz {
		attemptID, err := c.attempts.EnsureAttempt(ctx)
		if err != nil {
			return nil, err
		}
		err = retryRemoteErr(ctx, c.opts.Retry, func(ctx context.Context) error {
			return c.api.SubmitQuizResponse(ctx, attemptID, questionID, answer)
		})
		if err != nil {
			return nil, err
		}
	}

	if _, err := c.state.MarkQuestionSubmitted(ctx, questionID); err != nil {
		return nil, err
	}
	return c.viewLocked(false)
}

// Navigate moves to the question at index.
func (c *Coordinator) Navigate(ctx context.Context, index int) (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if _, err := c.state.GoToQuestion(ctx, index); err != nil {
		return nil, err
	}
	return c.viewLocked(false)
}

// StartTimer starts or resumes the countdown.
func (c *Coordinator) StartTimer(ctx context.Context) (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if err := c.ensureWritable(); err != nil {
		return nil, err
	}
	if err := c.timer.Start(ctx); err != nil {
		return nil, err
	}
	return c.viewLocked(false)
}

// PauseTimer pauses the countdown.
func (c *Coordinator) PauseTimer(ctx context.Context) (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if err := c.timer.Pause(ctx); err != nil {
		return nil, err
	}
	return c.viewLocked(false)
}

// Tick advances the timer by one second.
func (c *Coordinator) Tick(ctx context.Context) (int, error) {
	return c.timer.Tick(ctx)
}

// Submit runs the final submission.
func (c *Coordinator) Submit(ctx context.Context, opts SubmitOptions) (*model.SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	return c.pipeline.Submit(ctx, opts)
}

// Reset discards all local progress and reopens the run.
func (c *Coordinator) Reset(ctx context.Context) (*model.SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if err := c.state.Reset(ctx); err != nil {
		return nil, err
	}
	c.attempts.Reset()
	c.log.Info().Msg("Session reset")

	return c.openLocked(ctx)
}

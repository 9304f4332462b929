package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// fakeAPI is an in-memory AssessmentAPI that counts remote calls.
type fakeAPI struct {
	mu sync.Mutex

	structure    *model.AssessmentStructure
	structureErr error

	startCalls int
	startDelay time.Duration
	startErr   error
	attempts   map[string]*model.Attempt
	seq        int

	responses     map[string]string
	responseCalls int
	responseErr   map[string]error

	completeCalls int
	completeErr   error

	submitCompleteCalls int
	submitCompleteErr   error
	lastCompleteAnswers map[string]string

	getCalls   int
	getNilRuns int
}

func newFakeAPI(structure *model.AssessmentStructure) *fakeAPI {
	return &fakeAPI{
		structure:   structure,
		attempts:    map[string]*model.Attempt{},
		responses:   map[string]string{},
		responseErr: map[string]error{},
	}
}

func (f *fakeAPI) GetAssessmentStructure(_ context.Context, _ string, _ model.AssessmentType) (*model.AssessmentStructure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.structureErr != nil {
		return nil, f.structureErr
	}
	s := *f.structure
	s.Questions = append([]model.Question(nil), f.structure.Questions...)
	return &s, nil
}

func (f *fakeAPI) StartQuizAttempt(_ context.Context, assessmentID string) (*model.Attempt, error) {
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	for _, a := range f.attempts {
		if a.AssessmentID == assessmentID && a.Status == model.AttemptStatusInProgress {
			return nil, &AttemptExistsError{AttemptID: a.ID}
		}
	}

	f.seq++
	a := &model.Attempt{
		ID:           fmt.Sprintf("attempt-%d", f.seq),
		AssessmentID: assessmentID,
		Status:       model.AttemptStatusInProgress,
		StartedAt:    time.Now(),
	}
	f.attempts[a.ID] = a
	return a, nil
}

func (f *fakeAPI) SubmitQuizResponse(_ context.Context, attemptID, questionID, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.responseCalls++
	if err := f.responseErr[questionID]; err != nil {
		return err
	}
	if a, ok := f.attempts[attemptID]; ok && a.Status == model.AttemptStatusCompleted {
		return ErrAttemptAlreadyCompleted
	}
	f.responses[questionID] = response
	return nil
}

func (f *fakeAPI) SubmitCompleteQuiz(_ context.Context, assessmentID string, startedAt time.Time, answers map[string]string) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitCompleteCalls++
	if f.submitCompleteErr != nil {
		return nil, f.submitCompleteErr
	}
	f.lastCompleteAnswers = answers

	f.seq++
	now := time.Now()
	a := &model.Attempt{
		ID:            fmt.Sprintf("attempt-%d", f.seq),
		AssessmentID:  assessmentID,
		Status:        model.AttemptStatusCompleted,
		StartedAt:     startedAt,
		FinishedAt:    &now,
		ResponseCount: len(answers),
	}
	f.attempts[a.ID] = a
	return a, nil
}

func (f *fakeAPI) CompleteQuizAttempt(_ context.Context, attemptID string) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.completeCalls++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status == model.AttemptStatusCompleted {
		return nil, ErrAttemptAlreadyCompleted
	}
	now := time.Now()
	a.Status = model.AttemptStatusCompleted
	a.FinishedAt = &now
	cp := *a
	return &cp, nil
}

func (f *fakeAPI) GetQuizAttempt(_ context.Context, attemptID string) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	if f.getNilRuns > 0 {
		f.getNilRuns--
		return nil, nil
	}
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, nil
	}
	cp := *a
	cp.ResponseCount = len(f.responses)
	return &cp, nil
}

func (f *fakeAPI) counts() (start, complete, submitComplete int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.completeCalls, f.submitCompleteCalls
}

// q1Structure is a three question quiz with a ten minute limit.
func q1Structure() *model.AssessmentStructure {
	return &model.AssessmentStructure{
		AssessmentID:     "Q1",
		Type:             model.AssessmentTypeQuiz,
		Title:            "Quiz 1",
		Questions:        sampleQuestions(),
		TimeLimitMinutes: 10,
		PassingScore:     70,
	}
}

var fastRetry = RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

// fakeClock is a settable clock for staleness tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(st store.Store, api AssessmentAPI, id string, typ model.AssessmentType, clock *fakeClock) *Coordinator {
	return NewCoordinator(st, api, 7, id, typ, CoordinatorOptions{
		Retry: fastRetry,
		Now:   clock.Now,
	}, zerolog.Nop())
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"golang.org/x/sync/singleflight"
)

// AttemptPhase is the lifecycle of the server-side attempt.
type AttemptPhase int

const (
	AttemptNone AttemptPhase = iota
	AttemptCreating
	AttemptActive
	AttemptCompleted
)

func (p AttemptPhase) String() string {
	switch p {
	case AttemptNone:
		return "no_attempt"
	case AttemptCreating:
		return "creating"
	case AttemptActive:
		return "active"
	case AttemptCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// AttemptCoordinator makes sure one assessment run maps to exactly one
// remote attempt.
type AttemptCoordinator struct {
	state        *SessionState
	api          AssessmentAPI
	assessmentID string
	retry        RetryPolicy
	group        singleflight.Group

	mu    sync.Mutex
	phase AttemptPhase

	log zerolog.Logger
}

// NewAttemptCoordinator creates a coordinator writing through state.
func NewAttemptCoordinator(state *SessionState, api AssessmentAPI, assessmentID string, retry RetryPolicy, log zerolog.Logger) *AttemptCoordinator {
	return &AttemptCoordinator{
		state:        state,
		api:          api,
		assessmentID: assessmentID,
		retry:        retry,
		log:          log.With().Str("component", "attempt_coordinator").Str("assessment_id", assessmentID).Logger(),
	}
}

// Phase returns the current attempt phase.
func (a *AttemptCoordinator) Phase() AttemptPhase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *AttemptCoordinator) setPhase(p AttemptPhase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

// activate moves to AttemptActive unless the attempt is already completed.
func (a *AttemptCoordinator) activate() {
	a.mu.Lock()
	if a.phase != AttemptCompleted {
		a.phase = AttemptActive
	}
	a.mu.Unlock()
}

// EnsureAttempt returns the attempt id of the current run, creating the
// remote attempt on first use. Concurrent callers share one creation call
// and an "already exists" answer is adopted as the attempt.
func (a *AttemptCoordinator) EnsureAttempt(ctx context.Context) (string, error) {
	if id := a.state.AttemptID(); id != "" {
		a.activate()
		return id, nil
	}

	v, err, _ := a.group.Do(a.assessmentID, func() (any, error) {
		if id := a.state.AttemptID(); id != "" {
			return id, nil
		}

		id, found, err := a.state.AttemptLookup(ctx)
		if err != nil {
			return "", err
		}
		if found {
			a.log.Debug().Str("attempt_id", id).Msg("Adopting attempt from lookup key")
			if err := a.state.SetAttemptID(ctx, id); err != nil {
				return "", err
			}
			return id, nil
		}

		a.setPhase(AttemptCreating)
		id, err = a.create(ctx)
		if err != nil {
			a.setPhase(AttemptNone)
			return "", err
		}
		if err := a.state.SetAttemptID(ctx, id); err != nil {
			a.setPhase(AttemptNone)
			return "", err
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}

	a.activate()
	return v.(string), nil
}

func (a *AttemptCoordinator) create(ctx context.Context) (string, error) {
	attempt, err := retryRemote(ctx, a.retry, func(ctx context.Context) (*model.Attempt, error) {
		return a.api.StartQuizAttempt(ctx, a.assessmentID)
	}, func(at *model.Attempt) bool {
		return at == nil || at.ID == ""
	})

	var exists *AttemptExistsError
	switch {
	case errors.As(err, &exists):
		if exists.AttemptID == "" {
			return "", fmt.Errorf("%w: existing attempt without id", ErrRemoteUnavailable)
		}
		a.log.Info().Str("attempt_id", exists.AttemptID).Msg("Attempt already exists, reusing it")
		return exists.AttemptID, nil
	case err != nil:
		a.log.Error().Err(err).Msg("Failed to start attempt")
		return "", err
	}

	a.log.Info().Str("attempt_id", attempt.ID).Msg("Attempt started")
	return attempt.ID, nil
}

// DetectPriorCompletion reports whether a previous run left the completion
// flag behind. Callers must discard local state before continuing.
func (a *AttemptCoordinator) DetectPriorCompletion(ctx context.Context) (bool, error) {
	return a.state.CompletedFlag(ctx)
}

// MarkCompleted moves the coordinator to its terminal phase.
func (a *AttemptCoordinator) MarkCompleted() {
	a.setPhase(AttemptCompleted)
}

// Reset returns the coordinator to NoAttempt after an explicit session reset.
func (a *AttemptCoordinator) Reset() {
	a.setPhase(AttemptNone)
}

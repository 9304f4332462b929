package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// AssessmentAPI is the remote side of the session engine. Implementations
// perform network or database I/O; every call may block.
type AssessmentAPI interface {
	GetAssessmentStructure(ctx context.Context, assessmentID string, assessmentType model.AssessmentType) (*model.AssessmentStructure, error)
	StartQuizAttempt(ctx context.Context, assessmentID string) (*model.Attempt, error)
	SubmitQuizResponse(ctx context.Context, attemptID, questionID, response string) error
	SubmitCompleteQuiz(ctx context.Context, assessmentID string, startedAt time.Time, answers map[string]string) (*model.Attempt, error)
	CompleteQuizAttempt(ctx context.Context, attemptID string) (*model.Attempt, error)
	// GetQuizAttempt may return (nil, nil) while the attempt is not yet visible.
	GetQuizAttempt(ctx context.Context, attemptID string) (*model.Attempt, error)
}

// Errors an AssessmentAPI reports to classify remote failures.
var (
	ErrAttemptExists           = errors.New("attempt already exists")
	ErrAttemptAlreadyCompleted = errors.New("attempt already completed")
	ErrNotFound                = errors.New("not found")
	ErrNotImplemented          = errors.New("not implemented")
)

// AttemptExistsError is returned by StartQuizAttempt when the student already
// has an in-progress attempt. It carries the existing attempt id.
type AttemptExistsError struct {
	AttemptID string
}

func (e *AttemptExistsError) Error() string {
	return fmt.Sprintf("attempt %s already exists", e.AttemptID)
}

func (e *AttemptExistsError) Is(target error) bool { return target == ErrAttemptExists }

// isPermanent reports whether err is a semantic API answer that retrying
// cannot change.
func isPermanent(err error) bool {
	return errors.Is(err, ErrAttemptExists) ||
		errors.Is(err, ErrAttemptAlreadyCompleted) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotImplemented) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

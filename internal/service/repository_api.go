package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// RepositoryAPI implements AssessmentAPI directly against the exam database.
// Use ForStudent to bind it to the acting student.
type RepositoryAPI struct {
	pool        *pgxpool.Pool
	assessments *repository.AssessmentRepository
	attempts    *repository.AttemptRepository
	responses   *repository.ResponseRepository
	studentID   int
	log         zerolog.Logger
}

// NewRepositoryAPI creates a new RepositoryAPI.
func NewRepositoryAPI(
	pool *pgxpool.Pool,
	assessments *repository.AssessmentRepository,
	attempts *repository.AttemptRepository,
	responses *repository.ResponseRepository,
	log zerolog.Logger,
) *RepositoryAPI {
	return &RepositoryAPI{
		pool:        pool,
		assessments: assessments,
		attempts:    attempts,
		responses:   responses,
		log:         log.With().Str("component", "repository_api").Logger(),
	}
}

// ForStudent returns a copy acting on behalf of studentID.
func (a *RepositoryAPI) ForStudent(studentID int) AssessmentAPI {
	cp := *a
	cp.studentID = studentID
	cp.log = a.log.With().Int("student_id", studentID).Logger()
	return &cp
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s id %q", ErrNotFound, kind, raw)
	}
	return id, nil
}

func (a *RepositoryAPI) GetAssessmentStructure(ctx context.Context, assessmentID string, assessmentType model.AssessmentType) (*model.AssessmentStructure, error) {
	id, err := parseID("assessment", assessmentID)
	if err != nil {
		return nil, err
	}

	s, err := a.assessments.GetStructure(ctx, id, assessmentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: assessment %s", ErrNotFound, assessmentID)
	}
	return s, err
}

func (a *RepositoryAPI) StartQuizAttempt(ctx context.Context, assessmentID string) (*model.Attempt, error) {
	id, err := parseID("assessment", assessmentID)
	if err != nil {
		return nil, err
	}

	attempt, err := a.attempts.Create(ctx, id, a.studentID)
	if errors.Is(err, repository.ErrAttemptInProgress) {
		return nil, &AttemptExistsError{AttemptID: attempt.ID}
	}
	if err != nil {
		return nil, err
	}

	a.log.Info().Str("attempt_id", attempt.ID).Str("assessment_id", assessmentID).Msg("Quiz attempt created")
	return attempt, nil
}

func (a *RepositoryAPI) SubmitQuizResponse(ctx context.Context, attemptID, questionID, response string) error {
	aid, err := parseID("attempt", attemptID)
	if err != nil {
		return err
	}
	qid, err := parseID("question", questionID)
	if err != nil {
		return err
	}

	ok, err := a.responses.Upsert(ctx, a.pool, aid, a.studentID, qid, response)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: question %s", ErrNotFound, questionID)
		}
		return err
	}
	if ok {
		return nil
	}

	attempt, err := a.attempts.GetByID(ctx, a.pool, aid, a.studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: attempt %s", ErrNotFound, attemptID)
	}
	if err != nil {
		return err
	}
	if attempt.Status == model.AttemptStatusCompleted {
		return ErrAttemptAlreadyCompleted
	}
	return fmt.Errorf("%w: attempt %s", ErrNotFound, attemptID)
}

func (a *RepositoryAPI) SubmitCompleteQuiz(ctx context.Context, assessmentID string, startedAt time.Time, answers map[string]string) (*model.Attempt, error) {
	id, err := parseID("assessment", assessmentID)
	if err != nil {
		return nil, err
	}

	var attempt *model.Attempt
	err = pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		known, err := a.assessments.QuestionIDs(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(known) == 0 {
			return fmt.Errorf("%w: assessment %s", ErrNotFound, assessmentID)
		}

		responses := make(map[uuid.UUID]string, len(answers))
		for raw, value := range answers {
			if !known[raw] {
				a.log.Warn().Str("question_id", raw).Msg("Dropping answer for unknown question")
				continue
			}
			responses[uuid.MustParse(raw)] = value
		}

		attempt, err = a.attempts.CreateCompleted(ctx, tx, id, a.studentID, startedAt)
		if err != nil {
			return err
		}

		aid, err := uuid.Parse(attempt.ID)
		if err != nil {
			return err
		}
		if err := a.responses.InsertMany(ctx, tx, aid, responses); err != nil {
			return err
		}
		attempt.ResponseCount = len(responses)
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.log.Info().Str("attempt_id", attempt.ID).Int("responses", attempt.ResponseCount).Msg("Test submitted")
	return attempt, nil
}

func (a *RepositoryAPI) CompleteQuizAttempt(ctx context.Context, attemptID string) (*model.Attempt, error) {
	aid, err := parseID("attempt", attemptID)
	if err != nil {
		return nil, err
	}

	attempt, err := a.attempts.Complete(ctx, aid, a.studentID)
	switch {
	case errors.Is(err, repository.ErrAttemptCompleted):
		return nil, ErrAttemptAlreadyCompleted
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%w: attempt %s", ErrNotFound, attemptID)
	case err != nil:
		return nil, err
	}
	return attempt, nil
}

func (a *RepositoryAPI) GetQuizAttempt(ctx context.Context, attemptID string) (*model.Attempt, error) {
	aid, err := parseID("attempt", attemptID)
	if err != nil {
		return nil, err
	}

	attempt, err := a.attempts.GetByID(ctx, a.pool, aid, a.studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return attempt, err
}

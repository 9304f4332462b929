package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

var (
	// ErrAttemptInProgress is returned by Create when the student already has
	// an open attempt. The existing attempt is returned alongside it.
	ErrAttemptInProgress = errors.New("attempt already in progress")
	// ErrAttemptCompleted is returned when writing to a finished attempt.
	ErrAttemptCompleted = errors.New("attempt already completed")
)

const attemptColumns = `a.id, a.exam_id, a.student_id, a.status, a.started_at, a.finished_at,
	(SELECT COUNT(*) FROM quiz_responses r WHERE r.attempt_id = a.id)`

// AttemptRepository handles quiz attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	if err := row.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.Status, &a.StartedAt, &a.FinishedAt, &a.ResponseCount); err != nil {
		return nil, err
	}
	return a, nil
}

// Create opens a new attempt. When the student already has an open attempt
// for the exam, that attempt is returned with ErrAttemptInProgress.
func (r *AttemptRepository) Create(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{StudentID: studentID, Status: model.AttemptStatusInProgress}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO quiz_attempts (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, exam_id, started_at`,
		examID, studentID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.AssessmentID, &a.StartedAt)
	if err == nil {
		return a, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil, err
	}

	existing, err := r.GetInProgress(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	return existing, ErrAttemptInProgress
}

// CreateCompleted inserts an already finished attempt.
func (r *AttemptRepository) CreateCompleted(ctx context.Context, db DBTX, examID uuid.UUID, studentID int, startedAt time.Time) (*model.Attempt, error) {
	a := &model.Attempt{StudentID: studentID, Status: model.AttemptStatusCompleted, StartedAt: startedAt}
	err := db.QueryRow(ctx,
		`INSERT INTO quiz_attempts (exam_id, student_id, status, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		 RETURNING id, exam_id, finished_at`,
		examID, studentID, model.AttemptStatusCompleted, startedAt,
	).Scan(&a.ID, &a.AssessmentID, &a.FinishedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetInProgress retrieves the open attempt of a student for an exam.
func (r *AttemptRepository) GetInProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM quiz_attempts a
		 WHERE a.exam_id = $1 AND a.student_id = $2 AND a.status = $3`,
		examID, studentID, model.AttemptStatusInProgress,
	))
}

// GetByID retrieves an attempt owned by studentID.
// Returns pgx.ErrNoRows when it does not exist.
func (r *AttemptRepository) GetByID(ctx context.Context, db DBTX, id uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(db.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM quiz_attempts a
		 WHERE a.id = $1 AND a.student_id = $2`,
		id, studentID,
	))
}

// Complete closes an open attempt. It returns ErrAttemptCompleted when the
// attempt was already closed and pgx.ErrNoRows when it does not exist.
func (r *AttemptRepository) Complete(ctx context.Context, id uuid.UUID, studentID int) (*model.Attempt, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_attempts
		 SET status = $1, finished_at = CURRENT_TIMESTAMP
		 WHERE id = $2 AND student_id = $3 AND status = $4`,
		model.AttemptStatusCompleted, id, studentID, model.AttemptStatusInProgress,
	)
	if err != nil {
		return nil, err
	}

	a, err := r.GetByID(ctx, r.pool, id, studentID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return a, ErrAttemptCompleted
	}
	return a, nil
}

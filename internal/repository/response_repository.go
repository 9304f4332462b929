package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ResponseRepository handles per-question quiz responses.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// Upsert stores the response of one question for an open attempt owned by
// studentID. It reports false when no open attempt matched.
func (r *ResponseRepository) Upsert(ctx context.Context, db DBTX, attemptID uuid.UUID, studentID int, questionID uuid.UUID, response string) (bool, error) {
	tag, err := db.Exec(ctx,
		`INSERT INTO quiz_responses (attempt_id, question_id, response)
		 SELECT a.id, $3, $4
		 FROM quiz_attempts a
		 WHERE a.id = $1 AND a.student_id = $2 AND a.status = $5
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET response = EXCLUDED.response, submitted_at = CURRENT_TIMESTAMP`,
		attemptID, studentID, questionID, response, model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertMany stores a batch of responses for a freshly created attempt.
func (r *ResponseRepository) InsertMany(ctx context.Context, db DBTX, attemptID uuid.UUID, responses map[uuid.UUID]string) error {
	for qid, resp := range responses {
		if _, err := db.Exec(ctx,
			`INSERT INTO quiz_responses (attempt_id, question_id, response)
			 VALUES ($1, $2, $3)`,
			attemptID, qid, resp,
		); err != nil {
			return err
		}
	}
	return nil
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// AssessmentRepository reads assessment headers and their questions.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// GetStructure retrieves an assessment of the given type with its questions
// ordered by order_num. Returns pgx.ErrNoRows when it does not exist.
func (r *AssessmentRepository) GetStructure(ctx context.Context, id uuid.UUID, assessmentType model.AssessmentType) (*model.AssessmentStructure, error) {
	s := &model.AssessmentStructure{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assessment_type, title, duration_minutes, passing_score
		 FROM exams WHERE id = $1 AND assessment_type = $2`, id, assessmentType,
	).Scan(&s.AssessmentID, &s.Type, &s.Title, &s.TimeLimitMinutes, &s.PassingScore)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_type, question_text, options, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num, id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.Questions = []model.Question{}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &q.Options, &q.OrderNum); err != nil {
			return nil, err
		}
		s.Questions = append(s.Questions, q)
	}
	return s, rows.Err()
}

// QuestionIDs returns the ids of an assessment's questions.
func (r *AssessmentRepository) QuestionIDs(ctx context.Context, db DBTX, id uuid.UUID) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT id FROM questions WHERE exam_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var qid string
		if err := rows.Scan(&qid); err != nil {
			return nil, err
		}
		ids[qid] = true
	}
	return ids, rows.Err()
}

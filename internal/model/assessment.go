package model

import (
	"encoding/json"
)

// AssessmentType distinguishes quizzes from tests. Both share the session
// engine but differ in how the final submission reaches the server.
type AssessmentType string

const (
	AssessmentTypeQuiz AssessmentType = "quiz"
	AssessmentTypeTest AssessmentType = "test"
)

// Valid reports whether t is a known assessment type.
func (t AssessmentType) Valid() bool {
	return t == AssessmentTypeQuiz || t == AssessmentTypeTest
}

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeEssay          QuestionType = "ESSAY"
	QuestionTypeCode           QuestionType = "CODE"
)

// Question is a single assessment question as delivered to the student.
// Options are opaque to the session engine.
type Question struct {
	ID       string          `json:"id"`
	Type     QuestionType    `json:"question_type"`
	Text     string          `json:"question_text"`
	Options  json.RawMessage `json:"options,omitempty"`
	OrderNum int             `json:"order_num"`
}

// AssessmentStructure is the remote description of a quiz or test.
type AssessmentStructure struct {
	AssessmentID     string         `json:"assessment_id"`
	Type             AssessmentType `json:"assessment_type"`
	Title            string         `json:"title"`
	Questions        []Question     `json:"questions"`
	TimeLimitMinutes int            `json:"time_limit_minutes"`
	PassingScore     float64        `json:"passing_score"`
}

package model

import (
	"time"
)

// AttemptStatus enumerates server-side attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
)

// Attempt represents a student's server-side run through an assessment.
type Attempt struct {
	ID            string        `json:"id"`
	AssessmentID  string        `json:"assessment_id"`
	StudentID     int           `json:"student_id"`
	Status        AttemptStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	ResponseCount int           `json:"response_count"`
}

// SubmitStatus describes how a final submission concluded.
type SubmitStatus string

const (
	SubmitStatusCompleted            SubmitStatus = "completed"
	SubmitStatusCompletedLocal       SubmitStatus = "completed_local"
	SubmitStatusAlreadyCompleted     SubmitStatus = "already_completed"
	SubmitStatusConfirmationRequired SubmitStatus = "confirmation_required"
)

// SubmitResult is returned by the submission pipeline.
type SubmitResult struct {
	AttemptID       string       `json:"attempt_id,omitempty"`
	Status          SubmitStatus `json:"status"`
	Unanswered      int          `json:"unanswered,omitempty"`
	FailedQuestions []string     `json:"failed_questions,omitempty"`
	Attempt         *Attempt     `json:"attempt,omitempty"`
}

// Succeeded reports whether the submission reached a terminal success state.
func (r *SubmitResult) Succeeded() bool {
	return r != nil && r.Status != SubmitStatusConfirmationRequired
}

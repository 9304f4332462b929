package model

import "time"

// TaskState tracks explicit per-question confirmation, independent of
// whether an answer exists.
type TaskState struct {
	QuestionID  string `json:"question_id"`
	IsSubmitted bool   `json:"is_submitted"`
	IsViewed    bool   `json:"is_viewed"`
	// SubmittedValue is the answer value at the time of the last submission.
	SubmittedValue string `json:"submitted_value,omitempty"`
}

// SessionRecord is the persisted progress of one assessment run.
type SessionRecord struct {
	AssessmentID         string            `json:"assessment_id"`
	AssessmentType       AssessmentType    `json:"assessment_type"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	Answers              map[string]string `json:"answers"`
	TaskStates           []TaskState       `json:"task_states"`
	StartedAt            time.Time         `json:"started_at"`
	ContentFingerprint   string            `json:"content_fingerprint,omitempty"`
	AttemptID            string            `json:"attempt_id,omitempty"`
	LastUpdated          time.Time         `json:"last_updated"`
	Completed            bool              `json:"completed"`
}

// NewSessionRecord returns an empty record started at now.
func NewSessionRecord(assessmentID string, assessmentType AssessmentType, now time.Time) *SessionRecord {
	return &SessionRecord{
		AssessmentID:   assessmentID,
		AssessmentType: assessmentType,
		Answers:        map[string]string{},
		TaskStates:     []TaskState{},
		StartedAt:      now,
		LastUpdated:    now,
	}
}

// Clone returns a deep copy of the record.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Answers = make(map[string]string, len(r.Answers))
	for k, v := range r.Answers {
		out.Answers[k] = v
	}
	out.TaskStates = make([]TaskState, len(r.TaskStates))
	copy(out.TaskStates, r.TaskStates)
	return &out
}

// TaskIndex returns the index of the task state for questionID, or -1.
func (r *SessionRecord) TaskIndex(questionID string) int {
	for i := range r.TaskStates {
		if r.TaskStates[i].QuestionID == questionID {
			return i
		}
	}
	return -1
}

// TimerRecord is the persisted countdown clock of an assessment.
type TimerRecord struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	IsRunning        bool `json:"is_running"`
}

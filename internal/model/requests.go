package model

// SaveAnswerRequest is the payload for saving one answer. An empty value
// clears the answer.
type SaveAnswerRequest struct {
	Value *string `json:"value" binding:"required,max=65536"`
}

// NavigateRequest is the payload for moving the question pointer.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// SubmitRequest is the payload for the final submission.
type SubmitRequest struct {
	Confirmed bool `json:"confirmed"`
}

// SessionView is the state returned to the host after every mutation.
type SessionView struct {
	Record           *SessionRecord       `json:"session"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	TimerRunning     bool                 `json:"timer_running"`
	ContentReset     bool                 `json:"content_reset,omitempty"`
	Unanswered       int                  `json:"unanswered"`
	Structure        *AssessmentStructure `json:"structure,omitempty"`
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
	"github.com/tidwall/gjson"
)

const completedSentinel = "true"

// DefaultStaleAfter is the age after which a stored session is discarded.
const DefaultStaleAfter = 24 * time.Hour

// SessionState owns every read and write of the session keys of one
// assessment. Timer, attempt and submission logic go through it instead of
// rewriting the record themselves.
type SessionState struct {
	mu             sync.Mutex
	store          store.Store
	assessmentID   string
	assessmentType model.AssessmentType
	staleAfter     time.Duration
	now            func() time.Time
	record         *model.SessionRecord
	log            zerolog.Logger
}

// NewSessionState creates the state owner for one assessment.
// A zero staleAfter uses DefaultStaleAfter; a nil now uses time.Now.
func NewSessionState(st store.Store, assessmentID string, assessmentType model.AssessmentType, staleAfter time.Duration, now func() time.Time, log zerolog.Logger) *SessionState {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &SessionState{
		store:          st,
		assessmentID:   assessmentID,
		assessmentType: assessmentType,
		staleAfter:     staleAfter,
		now:            now,
		log: log.With().
			Str("component", "session_state").
			Str("assessment_id", assessmentID).
			Str("assessment_type", string(assessmentType)).
			Logger(),
	}
}

func (s *SessionState) sessionKey() string {
	return config.CacheKey.SessionKey(string(s.assessmentType), s.assessmentID)
}

func (s *SessionState) attemptKey() string {
	return config.CacheKey.AttemptKey(string(s.assessmentType), s.assessmentID)
}

func (s *SessionState) completedKey() string {
	return config.CacheKey.CompletedKey(string(s.assessmentType), s.assessmentID)
}

func (s *SessionState) timerKey() string {
	return config.CacheKey.TimerKey(s.assessmentID)
}

// Load reads the stored record, starting fresh when the previous run was
// completed, the record is stale, or it is missing. A corrupted record is
// replaced by a fresh one carrying whatever answers could be salvaged.
func (s *SessionState) Load(ctx context.Context) (*model.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed, err := s.completedFlag(ctx)
	if err != nil {
		return nil, err
	}

	var rec model.SessionRecord
	found, err := store.GetJSON(ctx, s.store, s.sessionKey(), &rec)

	var corrupted *store.CorruptedError
	switch {
	case completed:
		return s.restartLocked(ctx)

	case errors.As(err, &corrupted):
		s.log.Warn().Err(err).Msg("Session record corrupted, recovering answers")
		fresh := s.freshRecord()
		fresh.Answers = recoverAnswers(corrupted.Raw)
		return s.replaceLocked(ctx, fresh)

	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)

	case found && rec.Completed:
		return s.restartLocked(ctx)

	case !found:
		return s.replaceLocked(ctx, s.freshRecord())

	case s.now().Sub(rec.LastUpdated) > s.staleAfter:
		s.log.Info().
			Err(ErrSessionExpired).
			Time("last_updated", rec.LastUpdated).
			Msg("Stale session discarded")
		if err := s.store.Remove(ctx, s.sessionKey(), s.timerKey()); err != nil {
			return nil, fmt.Errorf("remove stale session: %w", err)
		}
		return s.replaceLocked(ctx, s.freshRecord())
	}

	if rec.Answers == nil {
		rec.Answers = map[string]string{}
	}
	if rec.TaskStates == nil {
		rec.TaskStates = []model.TaskState{}
	}
	s.record = &rec
	return rec.Clone(), nil
}

func (s *SessionState) restartLocked(ctx context.Context) (*model.SessionRecord, error) {
	s.log.Info().Msg("Previous run completed, starting a new session")
	if err := s.removeLocked(ctx, true); err != nil {
		return nil, err
	}
	return s.replaceLocked(ctx, s.freshRecord())
}

func (s *SessionState) freshRecord() *model.SessionRecord {
	return model.NewSessionRecord(s.assessmentID, s.assessmentType, s.now())
}

// recoverAnswers salvages string answers from a damaged record.
func recoverAnswers(raw string) map[string]string {
	answers := map[string]string{}
	res := gjson.Get(raw, "answers")
	if !res.IsObject() {
		return answers
	}
	res.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			answers[key.String()] = value.String()
		}
		return true
	})
	return answers
}

func (s *SessionState) replaceLocked(ctx context.Context, rec *model.SessionRecord) (*model.SessionRecord, error) {
	s.record = rec
	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *SessionState) persistLocked(ctx context.Context) error {
	s.record.LastUpdated = s.now()
	if err := store.SetJSON(ctx, s.store, s.sessionKey(), s.record); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (s *SessionState) loadedLocked() error {
	if s.record == nil {
		return ErrNotLoaded
	}
	return nil
}

// writableLocked rejects writes to an unloaded or finished run.
func (s *SessionState) writableLocked() error {
	if err := s.loadedLocked(); err != nil {
		return err
	}
	if s.record.Completed {
		return ErrAlreadyCompleted
	}
	return nil
}

// Completed reports whether the loaded record has been submitted.
func (s *SessionState) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record != nil && s.record.Completed
}

// Record returns a copy of the in-memory record.
func (s *SessionState) Record() (*model.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadedLocked(); err != nil {
		return nil, err
	}
	return s.record.Clone(), nil
}

// Answer returns the stored answer for questionID.
func (s *SessionState) Answer(questionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return "", false
	}
	v, ok := s.record.Answers[questionID]
	return v, ok
}

// SaveAnswer upserts an answer. Changing the answer of a submitted question
// reopens it. A completed run rejects the write with ErrAlreadyCompleted.
func (s *SessionState) SaveAnswer(ctx context.Context, questionID, value string) (*model.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}

	idx := s.record.TaskIndex(questionID)
	if idx < 0 && len(s.record.TaskStates) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}

	s.record.Answers[questionID] = value
	if idx >= 0 {
		ts := &s.record.TaskStates[idx]
		if ts.IsSubmitted && ts.SubmittedValue != value {
			ts.IsSubmitted = false
		}
	}

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return s.record.Clone(), nil
}

// MarkQuestionSubmitted confirms one question. It fails with
// ErrNoAnswerProvided when the question has no answer.
func (s *SessionState) MarkQuestionSubmitted(ctx context.Context, questionID string) (*model.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}

	answer, ok := s.record.Answers[questionID]
	if !ok || answer == "" {
		return nil, ErrNoAnswerProvided
	}
	idx := s.record.TaskIndex(questionID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}

	s.record.TaskStates[idx].IsSubmitted = true
	s.record.TaskStates[idx].SubmittedValue = answer

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return s.record.Clone(), nil
}

// GoToQuestion moves the pointer and marks the target question viewed.
func (s *SessionState) GoToQuestion(ctx context.Context, index int) (*model.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(s.record.TaskStates) {
		return nil, fmt.Errorf("%w: %d", ErrQuestionOutOfRange, index)
	}

	s.record.CurrentQuestionIndex = index
	s.record.TaskStates[index].IsViewed = true

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return s.record.Clone(), nil
}

// ReconcileWithContent checks the record against the current question set.
// It reports true when drift forced a reset of the stored progress.
func (s *SessionState) ReconcileWithContent(ctx context.Context, questions []model.Question) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadedLocked(); err != nil {
		return false, err
	}

	res := CheckAndReconcile(s.record, Fingerprint(questions), s.now())
	if !res.Valid {
		s.log.Warn().Err(ErrContentDrift).Msg("Assessment content changed")
	}
	s.record = res.Record

	s.record.TaskStates = alignTaskStates(s.record.TaskStates, questions)
	switch {
	case len(s.record.TaskStates) == 0:
		s.record.CurrentQuestionIndex = 0
	case s.record.CurrentQuestionIndex >= len(s.record.TaskStates):
		s.record.CurrentQuestionIndex = len(s.record.TaskStates) - 1
	case s.record.CurrentQuestionIndex < 0:
		s.record.CurrentQuestionIndex = 0
	}
	if len(s.record.TaskStates) > 0 {
		s.record.TaskStates[s.record.CurrentQuestionIndex].IsViewed = true
	}

	if err := s.persistLocked(ctx); err != nil {
		return false, err
	}
	return !res.Valid, nil
}

// alignTaskStates returns one task state per question in question order,
// keeping existing states whose question is still present.
func alignTaskStates(states []model.TaskState, questions []model.Question) []model.TaskState {
	if len(states) == len(questions) {
		aligned := true
		for i := range questions {
			if states[i].QuestionID != questions[i].ID {
				aligned = false
				break
			}
		}
		if aligned {
			return states
		}
	}

	byID := make(map[string]model.TaskState, len(states))
	for _, ts := range states {
		byID[ts.QuestionID] = ts
	}

	out := make([]model.TaskState, len(questions))
	for i, q := range questions {
		if ts, ok := byID[q.ID]; ok {
			out[i] = ts
			continue
		}
		out[i] = model.TaskState{QuestionID: q.ID}
	}
	return out
}

// AttemptID returns the attempt id held by the record.
func (s *SessionState) AttemptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return ""
	}
	return s.record.AttemptID
}

// AttemptLookup reads the redundant attempt id key.
func (s *SessionState) AttemptLookup(ctx context.Context) (string, bool, error) {
	id, found, err := s.store.Get(ctx, s.attemptKey())
	if err != nil {
		return "", false, fmt.Errorf("read attempt key: %w", err)
	}
	return id, found && id != "", nil
}

// SetAttemptID stores the attempt id in the record and the lookup key.
// An id, once set, cannot be replaced by a different one.
func (s *SessionState) SetAttemptID(ctx context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return err
	}
	if s.record.AttemptID != "" && s.record.AttemptID != attemptID {
		return fmt.Errorf("%w: have %s, got %s", ErrAttemptImmutable, s.record.AttemptID, attemptID)
	}

	s.record.AttemptID = attemptID
	if err := s.persistLocked(ctx); err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.attemptKey(), attemptID); err != nil {
		return fmt.Errorf("write attempt key: %w", err)
	}
	return nil
}

// UnansweredQuestions lists questions without a non-empty answer, in order.
func (s *SessionState) UnansweredQuestions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return nil
	}
	var out []string
	for _, ts := range s.record.TaskStates {
		if s.record.Answers[ts.QuestionID] == "" {
			out = append(out, ts.QuestionID)
		}
	}
	return out
}

// CompletedFlag reports whether the completion sentinel is set.
func (s *SessionState) CompletedFlag(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedFlag(ctx)
}

func (s *SessionState) completedFlag(ctx context.Context) (bool, error) {
	v, found, err := s.store.Get(ctx, s.completedKey())
	if err != nil {
		return false, fmt.Errorf("read completed flag: %w", err)
	}
	return found && v == completedSentinel, nil
}

// IsCompleted reports completion from either the in-memory record or the
// persisted sentinel.
func (s *SessionState) IsCompleted(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record != nil && s.record.Completed {
		return true, nil
	}
	return s.completedFlag(ctx)
}

// MarkCompleted flags the record as completed.
func (s *SessionState) MarkCompleted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadedLocked(); err != nil {
		return err
	}
	s.record.Completed = true
	return s.persistLocked(ctx)
}

// WriteCompletedFlag sets the completion sentinel.
func (s *SessionState) WriteCompletedFlag(ctx context.Context) error {
	if err := s.store.Set(ctx, s.completedKey(), completedSentinel); err != nil {
		return fmt.Errorf("write completed flag: %w", err)
	}
	return nil
}

// Purge deletes the stored keys of the assessment. The in-memory record is
// kept so a completed session still answers as completed.
func (s *SessionState) Purge(ctx context.Context, keepCompleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ctx, !keepCompleted)
}

func (s *SessionState) removeLocked(ctx context.Context, withCompleted bool) error {
	keys := []string{s.sessionKey(), s.attemptKey(), s.timerKey()}
	if withCompleted {
		keys = append(keys, s.completedKey())
	}
	if err := s.store.Remove(ctx, keys...); err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	return nil
}

// Reset removes every key of the assessment, including the attempt lookup
// and the completion flag, and unloads the record.
func (s *SessionState) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removeLocked(ctx, true); err != nil {
		return err
	}
	s.record = nil
	return nil
}

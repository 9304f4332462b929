package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// SubmitOptions carries the host's decision for the final submission.
type SubmitOptions struct {
	// Confirmed means the student agreed to submit with unanswered questions.
	Confirmed bool
}

// SubmissionPipeline performs the final submission of one assessment run.
type SubmissionPipeline struct {
	mu       sync.Mutex
	state    *SessionState
	timer    *TimerController
	attempts *AttemptCoordinator
	api      AssessmentAPI
	retry    RetryPolicy

	assessmentID   string
	assessmentType model.AssessmentType

	log zerolog.Logger
}

// NewSubmissionPipeline wires the pipeline to the components it finalizes.
func NewSubmissionPipeline(
	state *SessionState,
	timer *TimerController,
	attempts *AttemptCoordinator,
	api AssessmentAPI,
	assessmentID string,
	assessmentType model.AssessmentType,
	retry RetryPolicy,
	log zerolog.Logger,
) *SubmissionPipeline {
	return &SubmissionPipeline{
		state:          state,
		timer:          timer,
		attempts:       attempts,
		api:            api,
		retry:          retry,
		assessmentID:   assessmentID,
		assessmentType: assessmentType,
		log:            log.With().Str("component", "submission").Str("assessment_id", assessmentID).Logger(),
	}
}

// flushReport summarizes the per-question flush.
type flushReport struct {
	flushed          int
	failed           []string
	alreadyCompleted int
}

func (r flushReport) unexplained() int {
	return len(r.failed) - r.alreadyCompleted
}

// Submit finalizes the run. Repeated calls after success return
// already_completed without contacting the server.
func (p *SubmissionPipeline) Submit(ctx context.Context, opts SubmitOptions) (*model.SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.state.Record()
	if err != nil {
		return nil, err
	}

	completed, err := p.state.IsCompleted(ctx)
	if err != nil {
		return nil, err
	}
	if completed {
		return &model.SubmitResult{AttemptID: rec.AttemptID, Status: model.SubmitStatusAlreadyCompleted}, nil
	}

	if unanswered := p.state.UnansweredQuestions(); len(unanswered) > 0 && !opts.Confirmed {
		return &model.SubmitResult{
			AttemptID:  rec.AttemptID,
			Status:     model.SubmitStatusConfirmationRequired,
			Unanswered: len(unanswered),
		}, nil
	}

	// Once flushing starts the submission runs to the end.
	ctx = context.WithoutCancel(ctx)

	var result *model.SubmitResult
	switch p.assessmentType {
	case model.AssessmentTypeTest:
		result, err = p.submitTest(ctx, rec)
	default:
		result, err = p.submitQuiz(ctx, rec)
	}
	if err != nil {
		return nil, err
	}

	if err := p.finalize(ctx); err != nil {
		return nil, err
	}

	p.log.Info().
		Str("attempt_id", result.AttemptID).
		Str("status", string(result.Status)).
		Int("failed", len(result.FailedQuestions)).
		Msg("Assessment submitted")
	return result, nil
}

func (p *SubmissionPipeline) submitQuiz(ctx context.Context, rec *model.SessionRecord) (*model.SubmitResult, error) {
	attemptID, err := p.attempts.EnsureAttempt(ctx)
	if err != nil {
		return nil, err
	}

	report := p.flush(ctx, attemptID, rec)
	result := &model.SubmitResult{AttemptID: attemptID, FailedQuestions: report.failed}

	if len(report.failed) > 0 {
		if report.unexplained() == 0 {
			p.log.Info().Str("attempt_id", attemptID).Msg("Attempt already completed on the server")
			result.Status = model.SubmitStatusAlreadyCompleted
			return result, nil
		}
		// Completion proceeds when at least one answer landed; the failed ids
		// are reported back. Only a flush that delivered nothing blocks it.
		if report.flushed == 0 {
			return nil, fmt.Errorf("%w: %d answers not flushed: %w",
				ErrPartialFlush, len(report.failed), ErrRemoteUnavailable)
		}
		p.log.Warn().
			Err(ErrPartialFlush).
			Strs("failed_questions", report.failed).
			Int("flushed", report.flushed).
			Msg("Some answers were not flushed")
	}

	attempt, err := retryRemote(ctx, p.retry, func(ctx context.Context) (*model.Attempt, error) {
		return p.api.CompleteQuizAttempt(ctx, attemptID)
	}, func(a *model.Attempt) bool { return a == nil })

	switch {
	case errors.Is(err, ErrNotImplemented), errors.Is(err, ErrNotFound):
		p.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Completion endpoint unavailable, keeping local flush")
		result.Status = model.SubmitStatusCompletedLocal
		return result, nil
	case errors.Is(err, ErrAttemptAlreadyCompleted):
		result.Status = model.SubmitStatusAlreadyCompleted
		return result, nil
	case err != nil:
		return nil, err
	}

	result.Status = model.SubmitStatusCompleted
	result.Attempt = p.fetchAttempt(ctx, attemptID, attempt)
	return result, nil
}

// flush sends every held answer, collecting failures instead of aborting.
func (p *SubmissionPipeline) flush(ctx context.Context, attemptID string, rec *model.SessionRecord) flushReport {
	var report flushReport

	for _, qid := range answerOrder(rec) {
		value := rec.Answers[qid]
		err := retryRemoteErr(ctx, p.retry, func(ctx context.Context) error {
			return p.api.SubmitQuizResponse(ctx, attemptID, qid, value)
		})
		if err == nil {
			report.flushed++
			continue
		}

		report.failed = append(report.failed, qid)
		if errors.Is(err, ErrAttemptAlreadyCompleted) {
			report.alreadyCompleted++
			continue
		}
		p.log.Warn().Err(err).Str("question_id", qid).Msg("Failed to flush answer")
	}

	return report
}

// answerOrder returns the ids of non-empty answers, question order first.
func answerOrder(rec *model.SessionRecord) []string {
	seen := make(map[string]bool, len(rec.TaskStates))
	order := make([]string, 0, len(rec.Answers))
	for _, ts := range rec.TaskStates {
		seen[ts.QuestionID] = true
		if rec.Answers[ts.QuestionID] != "" {
			order = append(order, ts.QuestionID)
		}
	}

	var extra []string
	for qid, v := range rec.Answers {
		if !seen[qid] && v != "" {
			extra = append(extra, qid)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// fetchAttempt reads the final attempt record, falling back to what the
// completion call returned.
func (p *SubmissionPipeline) fetchAttempt(ctx context.Context, attemptID string, fallback *model.Attempt) *model.Attempt {
	attempt, err := retryRemote(ctx, p.retry, func(ctx context.Context) (*model.Attempt, error) {
		return p.api.GetQuizAttempt(ctx, attemptID)
	}, func(a *model.Attempt) bool { return a == nil })
	if err != nil {
		p.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Final attempt not available")
		return fallback
	}
	return attempt
}

func (p *SubmissionPipeline) submitTest(ctx context.Context, rec *model.SessionRecord) (*model.SubmitResult, error) {
	answers := make(map[string]string, len(rec.Answers))
	for qid, v := range rec.Answers {
		if v != "" {
			answers[qid] = v
		}
	}

	attempt, err := retryRemote(ctx, p.retry, func(ctx context.Context) (*model.Attempt, error) {
		return p.api.SubmitCompleteQuiz(ctx, p.assessmentID, rec.StartedAt, answers)
	}, func(a *model.Attempt) bool { return a == nil || a.ID == "" })

	if errors.Is(err, ErrAttemptAlreadyCompleted) {
		return &model.SubmitResult{AttemptID: rec.AttemptID, Status: model.SubmitStatusAlreadyCompleted}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := p.state.SetAttemptID(ctx, attempt.ID); err != nil && !errors.Is(err, ErrAttemptImmutable) {
		return nil, err
	}
	return &model.SubmitResult{AttemptID: attempt.ID, Status: model.SubmitStatusCompleted, Attempt: attempt}, nil
}

// finalize records completion locally: the record is marked, the timer
// stopped, every key but the completion flag removed, then the flag written.
func (p *SubmissionPipeline) finalize(ctx context.Context) error {
	if err := p.state.MarkCompleted(ctx); err != nil {
		return err
	}
	if err := p.timer.Stop(ctx); err != nil {
		return err
	}
	p.attempts.MarkCompleted()
	if err := p.state.Purge(ctx, true); err != nil {
		return err
	}
	return p.state.WriteCompletedFlag(ctx)
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openQuiz(t *testing.T, st store.Store, api *fakeAPI) *Coordinator {
	t.Helper()
	c := newTestCoordinator(st, api, "Q1", model.AssessmentTypeQuiz, newFakeClock())
	_, err := c.Open(context.Background())
	require.NoError(t, err)
	return c
}

func answerAll(t *testing.T, c *Coordinator) {
	t.Helper()
	for qid, v := range map[string]string{"q1": "optA", "q2": "print(1)", "q3": "maps hash keys"} {
		_, err := c.SaveAnswer(context.Background(), qid, v)
		require.NoError(t, err)
	}
}

func TestSubmissionPipeline_RequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(q1Structure())
	c := openQuiz(t, store.NewMemoryStore(), api)

	_, err := c.SaveAnswer(ctx, "q1", "optA")
	require.NoError(t, err)

	res, err := c.Submit(ctx, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusConfirmationRequired, res.Status)
	assert.Equal(t, 2, res.Unanswered)
	assert.False(t, res.Succeeded())

	_, complete, _ := api.counts()
	assert.Zero(t, complete)
}

func TestSubmissionPipeline_QuizFlushesAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	api := newFakeAPI(q1Structure())
	c := openQuiz(t, st, api)
	answerAll(t, c)

	res, err := c.Submit(ctx, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusCompleted, res.Status)
	assert.Equal(t, "attempt-1", res.AttemptID)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, model.AttemptStatusCompleted, res.Attempt.Status)
	assert.Equal(t, 3, res.Attempt.ResponseCount)

	assert.Equal(t, "optA", api.responses["q1"])
	assert.Equal(t, TimerExpired, c.Timer().State())
	assert.Equal(t, AttemptCompleted, c.Attempts().Phase())

	keys, err := st.KeysWithPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"completed:quiz:Q1"}, keys)
}

func TestSubmissionPipeline_SubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(q1Structure())
	c := openQuiz(t, store.NewMemoryStore(), api)
	answerAll(t, c)

	first, err := c.Submit(ctx, SubmitOptions{})
	require.NoError(t, err)
	require.True(t, first.Succeeded())

	second, err := c.Submit(ctx, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusAlreadyCompleted, second.Status)
	assert.Equal(t, first.AttemptID, second.AttemptID)

	_, complete, _ := api.counts()
	assert.Equal(t, 1, complete)
}

func TestSubmissionPipeline_StaleTabSeesCompletionFlag(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	api := newFakeAPI(q1Structure())

	stale := openQuiz(t, st, api)
	active := openQuiz(t, st, api)
	answerAll(t, active)

	_, err := active.Submit(ctx, SubmitOptions{})
	require.NoError(t, err)

	res, err := stale.Submit(ctx, SubmitOptions{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusAlreadyCompleted, res.Status)

	_, complete, _ := api.counts()
	assert.Equal(t, 1, complete)
}

func TestSubmissionPipeline_DegradesWhenCompletionUnavailable(t *testing.T) {
	for name, completeErr := range map[string]error{
		"not implemented": ErrNotImplemented,
		"not found":       ErrNotFound,
	} {
		t.Run(name, func(t *testing.T) {
			api := newFakeAPI(q1Structure())
			api.completeErr = completeErr
			c := openQuiz(t, store.NewMemoryStore(), api)
			answerAll(t, c)

			res, err := c.Submit(context.Background(), SubmitOptions{})
			require.NoError(t, err)
			assert.Equal(t, model.SubmitStatusCompletedLocal, res.Status)

			_, complete, _ := api.counts()
			assert.Equal(t, 1, complete)
		})
	}
}

func TestSubmissionPipeline_ToleratesSingleFlushFailure(t *testing.T) {
	api := newFakeAPI(q1Structure())
	api.responseErr["q2"] = errors.New("timeout")
	c := openQuiz(t, store.NewMemoryStore(), api)
	answerAll(t, c)

	res, err := c.Submit(context.Background(), SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusCompleted, res.Status)
	assert.Equal(t, []string{"q2"}, res.FailedQuestions)
}

func TestSubmissionPipeline_BlocksWhenNothingFlushed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	api := newFakeAPI(q1Structure())
	for _, qid := range []string{"q1", "q2", "q3"} {
		api.responseErr[qid] = errors.New("503")
	}
	c := openQuiz(t, st, api)
	answerAll(t, c)

	_, err := c.Submit(ctx, SubmitOptions{})
	assert.ErrorIs(t, err, ErrPartialFlush)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)

	completed, err := c.state.IsCompleted(ctx)
	require.NoError(t, err)
	assert.False(t, completed)
	_, complete, _ := api.counts()
	assert.Zero(t, complete)

	// The run stays resumable and a later retry succeeds.
	api.mu.Lock()
	api.responseErr = map[string]error{}
	api.mu.Unlock()
	res, err := c.Submit(ctx, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusCompleted, res.Status)
}

func TestSubmissionPipeline_ServerSideCompletionIsSuccess(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(q1Structure())
	c := openQuiz(t, store.NewMemoryStore(), api)
	answerAll(t, c)

	// Someone else finished the attempt already.
	api.mu.Lock()
	for _, a := range api.attempts {
		a.Status = model.AttemptStatusCompleted
	}
	api.mu.Unlock()

	res, err := c.Submit(ctx, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusAlreadyCompleted, res.Status)
	assert.Len(t, res.FailedQuestions, 3)

	_, complete, _ := api.counts()
	assert.Zero(t, complete)
}

func TestSubmissionPipeline_FinalAttemptFetchRetriesOnNull(t *testing.T) {
	api := newFakeAPI(q1Structure())
	api.getNilRuns = 2
	c := openQuiz(t, store.NewMemoryStore(), api)
	answerAll(t, c)

	res, err := c.Submit(context.Background(), SubmitOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, 3, api.getCalls)
	assert.Equal(t, 3, res.Attempt.ResponseCount)
}

func TestSubmissionPipeline_TestUsesSingleCall(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	structure := q1Structure()
	structure.Type = model.AssessmentTypeTest
	api := newFakeAPI(structure)
	clock := newFakeClock()

	c := newTestCoordinator(st, api, "Q1", model.AssessmentTypeTest, clock)
	_, err := c.Open(ctx)
	require.NoError(t, err)
	answerAll(t, c)
	_, err = c.SaveAnswer(ctx, "q3", "")
	require.NoError(t, err)

	res, err := c.Submit(ctx, SubmitOptions{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, model.SubmitStatusCompleted, res.Status)

	start, complete, submitComplete := api.counts()
	assert.Zero(t, start)
	assert.Zero(t, complete)
	assert.Equal(t, 1, submitComplete)
	assert.Equal(t, map[string]string{"q1": "optA", "q2": "print(1)"}, api.lastCompleteAnswers)
	assert.Equal(t, clock.Now(), api.attempts[res.AttemptID].StartedAt)
}

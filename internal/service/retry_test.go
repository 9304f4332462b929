package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("retries empty results", func(t *testing.T) {
		calls := 0
		got, err := retryRemote(ctx, fastRetry, func(context.Context) (*int, error) {
			calls++
			if calls < 3 {
				return nil, nil
			}
			v := 42
			return &v, nil
		}, func(v *int) bool { return v == nil })

		require.NoError(t, err)
		assert.Equal(t, 42, *got)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhaustion is remote unavailable", func(t *testing.T) {
		calls := 0
		err := retryRemoteErr(ctx, fastRetry, func(context.Context) error {
			calls++
			return errors.New("boom")
		})

		assert.ErrorIs(t, err, ErrRemoteUnavailable)
		assert.Equal(t, fastRetry.MaxAttempts, calls)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		calls := 0
		err := retryRemoteErr(ctx, fastRetry, func(context.Context) error {
			calls++
			return &AttemptExistsError{AttemptID: "a-1"}
		})

		var exists *AttemptExistsError
		require.ErrorAs(t, err, &exists)
		assert.Equal(t, "a-1", exists.AttemptID)
		assert.NotErrorIs(t, err, ErrRemoteUnavailable)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero policy runs once", func(t *testing.T) {
		calls := 0
		_ = retryRemoteErr(ctx, RetryPolicy{}, func(context.Context) error {
			calls++
			return errors.New("boom")
		})
		assert.Equal(t, 1, calls)
	})
}

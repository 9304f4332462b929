package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var errEmptyResponse = errors.New("empty response")

// RetryPolicy bounds retries of remote calls.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy retries three times, one second apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// retryRemote runs op until it returns a non-empty result, a permanent
// error, or the policy is exhausted. A nil empty func treats every
// successful result as final. Exhaustion wraps ErrRemoteUnavailable.
func retryRemote[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error), empty func(T) bool) (T, error) {
	p = p.normalized()

	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil {
			if isPermanent(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		}
		if empty != nil && empty(v) {
			return v, errEmptyResponse
		}
		return v, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	)
	if err != nil {
		if isPermanent(err) {
			return res, err
		}
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return res, nil
}

// retryRemoteErr is retryRemote for calls without a result.
func retryRemoteErr(ctx context.Context, p RetryPolicy, op func(context.Context) error) error {
	_, err := retryRemote(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, nil)
	return err
}

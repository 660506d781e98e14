// Package retry provides a generic bounded-retry executor with
// exponential backoff and jitter. It has no dependency on the
// scenario scheduler; the scheduler's own task retry is policy-driven
// and lives there.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Executor retries an operation on matching failures. A fresh value is
// configured per use; Execute holds no shared state and is reentrant.
type Executor struct {
	// Retries is the maximum number of attempts, including the first.
	// Values below 1 are treated as 1.
	Retries int

	// Backoff is the base backoff unit. The sleep before the nth retry
	// is Backoff * 2^n scaled by a uniform jitter factor in [0.5, 1.5),
	// so the first retry waits around 2*Backoff. Zero disables sleeping.
	Backoff time.Duration

	// Matches reports whether a failure is retryable. A nil Matches
	// retries every failure. A non-matching failure is returned
	// immediately, untouched.
	Matches func(error) bool

	// Failure, when non-nil, replaces the last failure once all
	// attempts are exhausted.
	Failure error
}

// Do runs op through e, discarding any result value.
func Do(ctx context.Context, e Executor, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute attempts op up to e.Retries times, sleeping between attempts
// per e.Backoff. On exhaustion it returns e.Failure when configured,
// otherwise the last failure.
func Execute[T any](ctx context.Context, e Executor, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := e.Retries
	if attempts < 1 {
		attempts = 1
	}

	var matched bool
	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if e.Matches != nil && !e.Matches(err) {
			matched = false
			return v, backoff.Permanent(err)
		}
		matched = true
		return v, err
	}

	var policy backoff.BackOff
	if e.Backoff > 0 {
		bo := backoff.NewExponentialBackOff()
		// The first emitted interval equals InitialInterval, and the
		// first retry must wait 2*Backoff.
		bo.InitialInterval = 2 * e.Backoff
		bo.Multiplier = 2
		bo.RandomizationFactor = 0.5
		// Pure exponential growth: no interval cap, no elapsed cap.
		bo.MaxInterval = time.Duration(1<<62 - 1)
		bo.MaxElapsedTime = 0
		bo.Reset()
		policy = bo
	} else {
		policy = &backoff.ZeroBackOff{}
	}
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	v, err := backoff.RetryWithData(wrapped, policy)
	if err == nil {
		return v, nil
	}
	if !matched {
		// Non-matching failure: not an exhaustion, return it as-is.
		return v, err
	}
	if e.Failure != nil {
		return v, e.Failure
	}
	return v, err
}

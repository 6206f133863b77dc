// Package retry provides the shared retry combinator used for model
// downloads and streaming-session re-warm attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Classifier reports whether an error is transient and worth retrying.
// Anything it rejects fails the operation immediately.
type Classifier func(error) bool

// Policy describes one retry schedule: exponential delays starting at
// InitialDelay, doubling up to MaxDelay, for at most MaxAttempts tries.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  uint
	Retryable    Classifier
}

// Notify, when set, is called before each sleep with the failed attempt
// number (1-based) and the error that caused it.
type Notify func(attempt uint, err error)

// Do runs op until it succeeds, the classifier rejects its error, the
// attempt budget is spent, or ctx is cancelled. Context cancellation is
// never retried regardless of the classifier.
func Do(ctx context.Context, p Policy, notify Notify, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, notify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, notify Notify, op func(context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = 2

	var attempt uint

	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		attempt++
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, backoff.Permanent(err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		if notify != nil {
			notify(attempt, err)
		}
		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.MaxAttempts),
	)
}

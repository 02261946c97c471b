// Package retry implements a small generic retry helper with exponential
// backoff, used for establishing connections to external services at startup.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Action classifies an error after a failed attempt.
type Action int

const (
	// Stop aborts immediately; the error is permanent.
	Stop Action = iota
	// Retry backs off and tries again.
	Retry
)

// Policy controls the retry loop.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

// Classify decides whether an error is worth retrying.
type Classify func(err error) Action

// Operation is a retryable operation producing a value.
type Operation[T any] func() (T, error)

// VoidOperation is a retryable operation with no result.
type VoidOperation func() error

// Do runs op until it succeeds, the classifier returns Stop, the attempt
// budget is exhausted, or ctx is cancelled. Backoff doubles after each
// attempt.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		if classify(err) == Stop {
			var zero T
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			var zero T
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	panic("unreachable: MaxAttempts must be >= 1")
}

// DoVoid is Do for operations without a result.
func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// Always classifies every error as retryable.
func Always(error) Action { return Retry }

// PermanentError wraps an error the classifier declared not retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

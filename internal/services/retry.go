package services

import (
	"context"
	"errors"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

// RetryPolicy bounds calls to the store, object storage and mail relay.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  gax.Backoff
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Timeout:  15 * time.Second,
		Backoff:  gax.Backoff{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2},
	}
}

// NoRetry runs the operation once without a per-attempt deadline.
func NoRetry() RetryPolicy { return RetryPolicy{Attempts: 1} }

// Retry runs op until it succeeds, returns a non-retryable error, or the
// attempts run out. Each attempt gets its own deadline when Timeout > 0.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	bo := p.Backoff
	var err error
	for i := 0; i < attempts; i++ {
		err = runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			break
		}
		if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
			return err
		}
	}
	return err
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrOutcomeUnknown) {
		return false
	}
	if se, ok := AsServiceError(err); ok {
		return se.Code == ErrorBadGateway
	}
	return true
}

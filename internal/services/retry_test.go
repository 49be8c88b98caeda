package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Backoff: gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return NewNotFoundError("missing")
	})
	if !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not retry, got %d calls", calls)
	}

	calls = 0
	_ = Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return ErrAlreadyExists
	})
	if calls != 1 {
		t.Fatalf("ErrAlreadyExists must not retry, got %d calls", calls)
	}

	calls = 0
	_ = Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("smtp send: %w: %w", ErrOutcomeUnknown, context.DeadlineExceeded)
	})
	if calls != 1 {
		t.Fatalf("an abandoned send must not retry, got %d calls", calls)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 2 {
		t.Fatalf("expected boom after 2 calls, got %v after %d", err, calls)
	}
}

func TestRetryAppliesAttemptTimeout(t *testing.T) {
	p := fastPolicy(1)
	p.Timeout = 10 * time.Millisecond
	err := Retry(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestExternalErrorKeepsServiceErrors(t *testing.T) {
	orig := NewNotFoundError("ticket file missing")
	if got := ExternalError("read", orig); !IsCode(got, ErrorNotFound) {
		t.Fatalf("service error should pass through, got %v", got)
	}
	cause := errors.New("disk full")
	got := ExternalError("write", cause)
	if !IsCode(got, ErrorBadGateway) || !errors.Is(got, cause) {
		t.Fatalf("expected bad gateway wrapping cause, got %v", got)
	}
	if ExternalError("noop", nil) != nil {
		t.Fatalf("nil in, nil out")
	}
}

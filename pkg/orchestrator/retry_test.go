package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func TestWithRetry_SucceedsAfterTransientTimeout(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return NewProviderError("test", KindTimeout, errors.New("deadline exceeded"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return NewProviderError("test", KindUpstreamUnavailable, errors.New("503"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != maxRetryAttempts {
		t.Fatalf("expected %d calls, got %d", maxRetryAttempts, calls)
	}
}

func TestWithRetry_DoesNotRetryNonRetryableKind(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return NewProviderError("test", KindUpstreamRejected, errors.New("400"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for a non-retryable kind, got %d", calls)
	}
}

func TestWithRetry_DoesNotRetryPlainError(t *testing.T) {
	calls := 0
	plain := errors.New("not a provider error")
	err := withRetry(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return plain
	})
	if err != plain {
		t.Fatalf("expected plain error passthrough, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := withRetry(ctx, nil, "test", func(ctx context.Context) error {
		calls++
		return NewProviderError("test", KindTimeout, errors.New("deadline exceeded"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation observed, got %d", calls)
	}
}

package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartexam/paperingest/internal/domain"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  1.5,
		Retryable:   domain.IsTransient,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &domain.TransientError{Err: errors.New("connection reset")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &domain.TransientError{Err: errors.New("timeout")}
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !domain.IsTransient(err) {
		t.Errorf("exhausted error should still unwrap to the transient cause: %v", err)
	}
}

func TestRetryNilClassifierDefaultsToTransient(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1.5}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &domain.TransientError{Err: errors.New("timeout")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (transient errors retried without an explicit classifier)", calls)
	}

	calls = 0
	err = policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("bad document")
	})
	if err == nil {
		t.Fatal("expected the permanent error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (permanent errors still fail fast)", calls)
	}
}

func TestRetryFailsFastOnNonRetryableError(t *testing.T) {
	calls := 0
	permanent := errors.New("document rejected")
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent failure)", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Hour, // the cancel must interrupt this wait
		Multiplier:  2,
		Retryable:   domain.IsTransient,
	}

	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(ctx context.Context) error {
			calls++
			return &domain.TransientError{Err: errors.New("flaky")}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryDelayGrowth(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Multiplier: 1.5}
	testCases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 1500 * time.Millisecond},
		{attempt: 3, want: 2250 * time.Millisecond},
	}
	for _, tc := range testCases {
		if got := p.delay(tc.attempt); got != tc.want {
			t.Errorf("delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", p.BaseDelay)
	}
	if p.Multiplier != 1.5 {
		t.Errorf("Multiplier = %v, want 1.5", p.Multiplier)
	}
	if !p.Retryable(&domain.TransientError{Err: errors.New("x")}) {
		t.Error("transient errors should be retryable")
	}
	if p.Retryable(errors.New("x")) {
		t.Error("plain errors should not be retryable")
	}
}

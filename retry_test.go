package nekodb

import (
	"context"
	"errors"
	"testing"
	"time"

	mysql "github.com/go-sql-driver/mysql"
)

var (
	errRetry    = &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	errNonRetry = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
)

func TestRetry_SucceedsAfterRetries(t *testing.T) {
	pol := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MaxElapsed: time.Second}
	calls := 0
	op := func() error {
		calls++
		if calls < 3 {
			return errRetry
		}
		return nil
	}
	if err := retryWithPolicy(context.Background(), pol, op); err != nil {
		t.Fatalf("retryWithPolicy err: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	pol := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	calls := 0
	err := retryWithPolicy(context.Background(), pol, func() error { calls++; return errRetry })
	if !errors.Is(err, errRetry) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	pol := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	calls := 0
	err := retryWithPolicy(context.Background(), pol, func() error { calls++; return errNonRetry })
	if !errors.Is(err, errNonRetry) {
		t.Fatalf("expected non-retryable returned, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestRetry_RespectsMaxElapsed(t *testing.T) {
	pol := RetryPolicy{MaxAttempts: 100, BaseBackoff: 2 * time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxElapsed: 5 * time.Millisecond}
	calls := 0
	err := retryWithPolicy(context.Background(), pol, func() error { calls++; return errRetry })
	if err == nil {
		t.Fatalf("expected error due to elapsed")
	}
	if calls < 1 || calls >= pol.MaxAttempts {
		t.Fatalf("calls=%d out of expected range", calls)
	}
}

func TestRetry_ZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := retryWithPolicy(context.Background(), RetryPolicy{}, func() error { calls++; return errRetry })
	if !errors.Is(err, errRetry) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetry_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pol := RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Millisecond}
	calls := 0
	err := retryWithPolicy(ctx, pol, func() error {
		calls++
		cancel()
		return errRetry
	})
	if err == nil {
		t.Fatalf("expected an error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultStartupConfig(t *testing.T) {
	t.Parallel()

	config := DefaultStartupConfig()
	if config.Interval != time.Second {
		t.Errorf("Interval = %v, want 1s", config.Interval)
	}
	if config.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0 (unbounded)", config.MaxAttempts)
	}
}

func TestRetryUntilAvailable_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	var seen []int
	got, err := RetryUntilAvailable(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "connected", nil
	},
		WithInterval(time.Millisecond),
		WithComponent("test"),
		WithOnAttempt(func(attempt int, _ error) { seen = append(seen, attempt) }),
	)

	if err != nil {
		t.Fatalf("RetryUntilAvailable() error = %v", err)
	}
	if got != "connected" {
		t.Errorf("result = %q, want connected", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("attempts observed = %v", seen)
	}
}

func TestRetryUntilAvailable_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := RetryUntilAvailable(ctx, func(context.Context) (int, error) {
		return 0, errors.New("down")
	}, WithInterval(5*time.Millisecond))

	if err == nil {
		t.Fatal("expected an error once the context is done")
	}
}

func TestRetryUntilAvailable_MaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := RetryUntilAvailable(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	}, WithInterval(time.Millisecond), WithMaxAttempts(2))

	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

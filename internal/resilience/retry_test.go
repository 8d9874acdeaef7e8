package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	v, err := Retry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("busy"), 503)
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("OnRetry attempts = %v", retried)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(2), func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 0)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetry_PermanentErrorStops(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("syntax error at or near SELECT")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected one call and an error, got %d calls, err %v", calls, err)
	}
}

func TestRetry_ZeroAttemptsMeansOneTry(t *testing.T) {
	calls := 0
	_, _ = Retry(context.Background(), RetryConfig{}, func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 0)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{Attempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second}
	cfg.OnRetry = func(int, error) { cancel() }

	start := time.Now()
	_, err := Retry(ctx, cfg, func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 0)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retry did not stop on cancellation")
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}.withDefaults()
	if d := backoff(0, cfg); d != 100*time.Millisecond {
		t.Errorf("attempt 0: %v", d)
	}
	if d := backoff(1, cfg); d != 200*time.Millisecond {
		t.Errorf("attempt 1: %v", d)
	}
	if d := backoff(5, cfg); d != 300*time.Millisecond {
		t.Errorf("attempt 5: %v", d)
	}
}

func TestPolicy_RetriesInsideBreaker(t *testing.T) {
	p := NewPolicy("market", 3, 1, 60)
	p.Retry.InitialBackoff = time.Millisecond
	p.Retry.MaxBackoff = time.Millisecond

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (float64, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 0)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if p.Breaker.State() != Open {
		t.Errorf("expected breaker open after exhausted call, got %s", p.Breaker.State())
	}

	_, err = Do(context.Background(), p, func(context.Context) (float64, error) { return 1, nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

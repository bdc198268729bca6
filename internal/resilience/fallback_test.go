package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteWithResult_PrimarySuccess(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	got, err := ExecuteWithResult(fg, func(v string) (string, error) { return v, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "primary" {
		t.Fatalf("result = %q, want primary", got)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secondary" {
		t.Fatalf("result = %q, want secondary", got)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)

	_, err := ExecuteWithResult(fg, func(int) (string, error) { return "", errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the last provider error wrapped", err)
	}
}

func TestExecuteWithResult_OpenBreakerSkipped(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	calls := map[string]int{}
	call := func(v string) (string, error) {
		calls[v]++
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	}
	for range 3 {
		_, _ = ExecuteWithResult(fg, call)
	}

	if calls["primary"] != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", calls["primary"])
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Error("primary breaker not open")
	}
}

func TestExecuteWithResult_SkipDoesNotTrip(t *testing.T) {
	errNope := errors.New("not supported")
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		Classify: func(err error) Verdict {
			if errors.Is(err, errNope) {
				return Skip
			}
			return Retry
		},
	})
	fg.AddFallback("secondary", "secondary")

	for range 3 {
		got, err := ExecuteWithResult(fg, func(v string) (string, error) {
			if v == "primary" {
				return "", errNope
			}
			return v, nil
		})
		if err != nil || got != "secondary" {
			t.Fatalf("result = %q, %v", got, err)
		}
	}
	if fg.Breaker("primary").State() != StateClosed {
		t.Error("skipped errors tripped the breaker")
	}
}

func TestExecuteWithResult_AbortOnCancel(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	var tried []string
	_, err := ExecuteWithResult(fg, func(v string) (string, error) {
		tried = append(tried, v)
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried %v, want only the primary", tried)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	fg := NewFallbackGroup(0, "gemini", FallbackConfig{})
	fg.AddFallback("anyllm", 1)
	names := fg.Names()
	if len(names) != 2 || names[0] != "gemini" || names[1] != "anyllm" {
		t.Errorf("Names = %v", names)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker of unknown entry should be nil")
	}
}

package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecuteSucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := Execute(context.Background(), Executor{Retries: 3}, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if v != 42 {
		t.Errorf("v = %d, want 42", v)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	calls := 0
	transient := errors.New("transient")
	v, err := Execute(context.Background(), Executor{Retries: 3, Backoff: time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", transient
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if v != "ok" {
		t.Errorf("v = %q, want ok", v)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteBackoffMagnitude(t *testing.T) {
	calls := 0
	base := 100 * time.Millisecond
	start := time.Now()
	_, err := Execute(context.Background(), Executor{Retries: 3, Backoff: base},
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 1, nil
		})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	// Two failures mean sleeps around 2*base and 4*base; with jitter in
	// [0.5, 1.5) the total lands in [300ms, 900ms).
	if elapsed < 3*base {
		t.Errorf("total backoff sleep %v, want at least %v", elapsed, 3*base)
	}
	if elapsed > 12*base {
		t.Errorf("total backoff sleep %v, want under %v", elapsed, 12*base)
	}
}

func TestExecuteExhaustionReturnsLastFailure(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Execute(context.Background(), Executor{Retries: 3}, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteExhaustionSubstitutesFailure(t *testing.T) {
	exhausted := errors.New("service unavailable after retries")
	_, err := Execute(context.Background(), Executor{Retries: 2, Failure: exhausted},
		func(context.Context) (int, error) {
			return 0, errors.New("boom")
		})
	if !errors.Is(err, exhausted) {
		t.Errorf("err = %v, want the configured failure", err)
	}
}

func TestExecuteNonMatchingFailureNotRetried(t *testing.T) {
	calls := 0
	fatal := errors.New("schema violation")
	_, err := Execute(context.Background(), Executor{
		Retries: 5,
		Matches: func(err error) bool { return strings.Contains(err.Error(), "transient") },
		Failure: errors.New("exhausted"),
	}, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want the original failure untouched", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteZeroRetriesMeansOneAttempt(t *testing.T) {
	calls := 0
	_, _ = Execute(context.Background(), Executor{}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Execute(ctx, Executor{Retries: 10, Backoff: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("Execute returned nil after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancel)", calls)
	}
}

func TestDoDiscardsValue(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Executor{Retries: 2}, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

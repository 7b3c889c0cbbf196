package util

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	wantErr := errors.New("always fails")
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Minute, func() error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 2 took %v, want near-instant", elapsed)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1) // one op per minute
	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestLimiterSetReusesEndpointLimiter(t *testing.T) {
	ls := NewLimiterSet(120, 1)
	a := ls.Endpoint("GetCandles")
	b := ls.Endpoint("GetCandles")
	if a != b {
		t.Error("expected the same limiter instance for one endpoint")
	}
	if c := ls.Endpoint("GetClosePrices"); c == a {
		t.Error("expected distinct limiters per endpoint")
	}
}

func TestNewTaskID(t *testing.T) {
	id := NewTaskID("evening")
	if !strings.HasPrefix(id, "EVENING_") {
		t.Errorf("id = %q, want EVENING_ prefix", id)
	}
	if len(id) != len("EVENING_")+8 {
		t.Errorf("id = %q, want 8-char suffix", id)
	}
	if id == NewTaskID("evening") {
		t.Error("expected unique task ids")
	}
}

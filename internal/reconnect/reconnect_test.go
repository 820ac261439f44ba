package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextBackoffStepsThroughLadder(t *testing.T) {
	for i, want := range Ladder {
		got := NextBackoff(i + 1)
		if got != want {
			t.Errorf("NextBackoff(%d) = %v, want %v", i+1, got, want)
		}
	}
}

func TestNextBackoffHoldsAtLastRungBeyondLadderLength(t *testing.T) {
	top := Ladder[len(Ladder)-1]
	got := NextBackoff(len(Ladder) + 5)
	if got != top {
		t.Errorf("NextBackoff(len+5) = %v, want %v (hold at last rung)", got, top)
	}
}

func TestNextBackoffClampsNonPositiveAttemptToFirstRung(t *testing.T) {
	got := NextBackoff(0)
	if got != Ladder[0] {
		t.Errorf("NextBackoff(0) = %v, want %v", got, Ladder[0])
	}
}

func TestRunSucceedsOnFirstAttemptWithoutSleeping(t *testing.T) {
	r := New(func(ctx context.Context) error { return nil })
	r.sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatal("should not sleep when the first attempt succeeds")
		return nil
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestRunRetriesUntilConnectorSucceeds(t *testing.T) {
	attempts := 0
	r := New(func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunStopsRetryingAfterStop(t *testing.T) {
	r := New(func(ctx context.Context) error { return errors.New("always fails") })
	r.sleep = func(ctx context.Context, d time.Duration) error {
		r.Stop()
		return nil
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("expected Stop to end Run cleanly, got %v", err)
	}
}

func TestRunReturnsContextErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(func(ctx context.Context) error { return errors.New("always fails") })
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	if err := r.Run(ctx); err == nil {
		t.Fatal("expected a context error")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	r := New(func(ctx context.Context) error { return nil })
	r.Stop()
	r.Stop()
}

func TestBuildLadderDoublesFromMinUntilMax(t *testing.T) {
	got := BuildLadder(100*time.Millisecond, 1*time.Second)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
	}
	if len(got) != len(want) {
		t.Fatalf("BuildLadder() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BuildLadder()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBuildLadderClampsInvertedRangeToMin(t *testing.T) {
	got := BuildLadder(5*time.Second, 1*time.Second)
	if len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("BuildLadder(inverted) = %v, want a single 5s rung", got)
	}
}

func TestNewWithLadderDrivesRunOffCustomLadder(t *testing.T) {
	var delays []time.Duration
	attempts := 0
	r := NewWithLadder(func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, []time.Duration{time.Millisecond, 2 * time.Millisecond})
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

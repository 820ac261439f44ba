package clocksync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"watchtogether/internal/session"
	"watchtogether/internal/wire"
)

// fakeRequester answers every GetReferenceTime request with a scripted
// server millisecond value and fixed send/receive timestamps, so the
// midpoint assumption is exact in tests.
type fakeRequester struct {
	mu           sync.Mutex
	serverMs     int64
	sentAt       time.Time
	receivedAt   time.Time
	calls        int
	err          error
}

func (f *fakeRequester) PerformRequest(ctx context.Context, reqType wire.RequestType, payload any) (session.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return session.Response{}, f.err
	}
	raw, _ := json.Marshal(wire.ReferenceTimeMessage{Type: wire.SuccessReferenceTime, Milliseconds: f.serverMs})
	return session.Response{Message: raw, SentAt: f.sentAt, ReceivedAt: f.receivedAt}, nil
}

func TestCreateInitializedComputesOffsetFromMidpoint(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	r := &fakeRequester{
		serverMs:   base.UnixMilli() + 5000,
		sentAt:     base,
		receivedAt: base.Add(100 * time.Millisecond),
	}

	s, err := CreateInitialized(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// midpoint = base + 50ms; offset = (base + 5000ms) - (base + 50ms) = 4950ms
	if got, want := s.OffsetMs(), int64(4950); got != want {
		t.Errorf("OffsetMs() = %d, want %d", got, want)
	}
}

func TestCalculateServerTimeFromLocalTimeAddsOffset(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	r := &fakeRequester{serverMs: base.UnixMilli() + 1000, sentAt: base, receivedAt: base}
	s, err := CreateInitialized(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	localMs := base.UnixMilli() + 20000
	if got, want := s.CalculateServerTimeFromLocalTime(localMs), localMs+s.OffsetMs(); got != want {
		t.Errorf("CalculateServerTimeFromLocalTime = %d, want %d", got, want)
	}
}

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	r := &fakeRequester{}
	s, err := CreateInitialized(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("first Start should succeed, got %v", err)
	}
	if err := s.Start(context.Background(), nil); err == nil {
		t.Fatal("expected AlreadyRunningError on second Start")
	}
}

func TestStopAfterStartAllowsRestart(t *testing.T) {
	r := &fakeRequester{}
	s, err := CreateInitialized(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Stop()
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("expected Start to succeed after Stop, got %v", err)
	}
	s.Stop()
	goleak.VerifyNone(t)
}

func TestStopIsSafeWithoutStart(t *testing.T) {
	r := &fakeRequester{}
	s, err := CreateInitialized(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Stop()
}

func TestCreateInitializedPropagatesRequestError(t *testing.T) {
	r := &fakeRequester{err: errBoom{}}
	if _, err := CreateInitialized(context.Background(), r); err == nil {
		t.Fatal("expected an error")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestCreateInitializedWithIntervalDrivesPeriodicResampling(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	r := &fakeRequester{serverMs: base.UnixMilli(), sentAt: base, receivedAt: base}

	s, err := CreateInitializedWithInterval(context.Background(), r, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	r.mu.Lock()
	r.serverMs = base.UnixMilli() + 9000
	r.mu.Unlock()

	changed := make(chan int64, 1)
	if err := s.Start(context.Background(), func(deltaMs int64) { changed <- deltaMs }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case delta := <-changed:
		if delta != 9000 {
			t.Errorf("onChange delta = %d, want 9000", delta)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a re-sample within the configured interval")
	}
}

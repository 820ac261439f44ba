// Package clocksync estimates the offset between server reference time and
// local monotonic time from round-trip request/response samples, so
// playback start-times received from the server can be translated into the
// local clock domain.
package clocksync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"watchtogether/internal/clienterr"
	"watchtogether/internal/session"
	"watchtogether/internal/wire"
)

// SampleInterval is the periodic re-sampling period once Start is running.
const SampleInterval = 15 * time.Second

// requester is the slice of session.Session a Synchronizer depends on.
type requester interface {
	PerformRequest(ctx context.Context, reqType wire.RequestType, payload any) (session.Response, error)
}

// Synchronizer holds the current server-minus-local offset, in
// milliseconds, and keeps it fresh via periodic re-sampling.
type Synchronizer struct {
	requester      requester
	sampleInterval time.Duration

	mu        sync.Mutex
	offsetMs  int64
	running   bool
	stopCh    chan struct{}
}

// CreateInitialized performs one synchronous round-trip sample and returns
// a Synchronizer holding the resulting offset, re-sampling every
// SampleInterval once Start is called.
func CreateInitialized(ctx context.Context, r requester) (*Synchronizer, error) {
	return CreateInitializedWithInterval(ctx, r, SampleInterval)
}

// CreateInitializedWithInterval is CreateInitialized with a configurable
// re-sampling period, e.g. one loaded from config.Config.ReferenceSampleInterval.
func CreateInitializedWithInterval(ctx context.Context, r requester, sampleInterval time.Duration) (*Synchronizer, error) {
	if sampleInterval <= 0 {
		sampleInterval = SampleInterval
	}
	s := &Synchronizer{requester: r, sampleInterval: sampleInterval}
	offset, err := s.sample(ctx)
	if err != nil {
		return nil, err
	}
	s.offsetMs = offset
	return s, nil
}

// OffsetMs returns the current server-minus-local offset, in milliseconds.
func (s *Synchronizer) OffsetMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsetMs
}

// CalculateServerTimeFromLocalTime translates a local-monotonic-domain
// millisecond timestamp into the server reference time domain.
func (s *Synchronizer) CalculateServerTimeFromLocalTime(localMs int64) int64 {
	return localMs + s.OffsetMs()
}

// Start begins periodic re-sampling at the interval the Synchronizer was
// created with (SampleInterval for CreateInitialized). onChange is
// called with the signed delta (new - old) whenever a sample differs from
// the stored offset. Returns AlreadyRunningError if called twice without an
// intervening Stop.
func (s *Synchronizer) Start(ctx context.Context, onChange func(deltaMs int64)) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return &clienterr.AlreadyRunningError{}
	}
	s.running = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	go s.loop(ctx, stopCh, onChange)
	return nil
}

// Stop cancels periodic sampling. Safe to call even if Start was never
// called or has already been stopped.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.stopCh = nil
}

func (s *Synchronizer) loop(ctx context.Context, stopCh chan struct{}, onChange func(deltaMs int64)) {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			offset, err := s.sample(ctx)
			if err != nil {
				continue
			}
			s.mu.Lock()
			old := s.offsetMs
			if offset == old {
				s.mu.Unlock()
				continue
			}
			s.offsetMs = offset
			s.mu.Unlock()
			if onChange != nil {
				onChange(offset - old)
			}
		}
	}
}

// sample performs one GetReferenceTime round trip and computes the offset,
// assuming symmetric one-way delay: the server's reported time is taken to
// correspond to the midpoint between send and receive.
func (s *Synchronizer) sample(ctx context.Context) (int64, error) {
	resp, err := s.requester.PerformRequest(ctx, wire.RequestGetReferenceTime, struct{}{})
	if err != nil {
		return 0, err
	}
	var msg wire.ReferenceTimeMessage
	if err := json.Unmarshal(resp.Message, &msg); err != nil {
		return 0, &clienterr.ProtocolError{Reason: "malformed reference_time message", Cause: err}
	}

	halfRTT := resp.ReceivedAt.Sub(resp.SentAt) / 2
	midpoint := resp.SentAt.Add(halfRTT)
	return msg.Milliseconds - midpoint.UnixMilli(), nil
}

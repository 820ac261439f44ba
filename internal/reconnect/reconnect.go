// Package reconnect drives automatic session re-establishment after an
// unintended connection close, stepping a backoff ladder by consecutive
// failure count rather than sleeping a fixed or exponentially-computed
// interval.
package reconnect

import (
	"context"
	"sync"
	"time"
)

// Ladder is the ordered list of backoff delays tried on successive
// reconnection attempts. The last rung repeats for any further attempt.
var Ladder = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// NextBackoff returns the delay to wait before reconnection attempt number
// attempt (1-indexed: the first retry after a close is attempt 1). Values
// beyond the ladder's length hold at the last rung.
func NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(Ladder) {
		idx = len(Ladder) - 1
	}
	return Ladder[idx]
}

// BuildLadder constructs a custom backoff ladder by doubling from min until
// reaching max, then holding at max as the final rung. Used to honor a
// configured min/max backoff range instead of the fixed default Ladder.
func BuildLadder(minBackoff, maxBackoff time.Duration) []time.Duration {
	if minBackoff <= 0 {
		minBackoff = Ladder[0]
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	ladder := []time.Duration{minBackoff}
	for ladder[len(ladder)-1] < maxBackoff {
		next := ladder[len(ladder)-1] * 2
		if next > maxBackoff {
			next = maxBackoff
		}
		ladder = append(ladder, next)
	}
	return ladder
}

// Connector attempts to establish a fresh session. A non-nil error counts
// as a failed attempt and advances the backoff ladder.
type Connector func(ctx context.Context) error

// Reconnector retries Connector after an unintended close, waiting its own
// ladder's delay for the attempt number between tries (the default Ladder,
// as NextBackoff steps it, unless built by NewWithLadder). It never retries
// once Stop is called,
// modeling the spec's rule that a deliberate logout never triggers
// reconnection.
type Reconnector struct {
	connect Connector
	sleep   func(ctx context.Context, d time.Duration) error
	ladder  []time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Reconnector that calls connect to re-establish a session,
// stepping through the default Ladder.
func New(connect Connector) *Reconnector {
	return NewWithLadder(connect, Ladder)
}

// NewWithLadder is New with a custom backoff ladder, e.g. one built by
// BuildLadder from configured min/max backoff bounds.
func NewWithLadder(connect Connector, ladder []time.Duration) *Reconnector {
	if len(ladder) == 0 {
		ladder = Ladder
	}
	return &Reconnector{
		connect: connect,
		sleep:   sleepCtx,
		ladder:  ladder,
		stopCh:  make(chan struct{}),
	}
}

// nextBackoff indexes into this Reconnector's ladder the same way the
// package-level NextBackoff indexes into the default Ladder.
func (r *Reconnector) nextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(r.ladder) {
		idx = len(r.ladder) - 1
	}
	return r.ladder[idx]
}

// Run retries connect with increasing backoff until it succeeds, ctx is
// canceled, or Stop is called. It returns nil on a successful reconnection,
// or ctx.Err() if canceled first.
func (r *Reconnector) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-r.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		attempt++
		if err := r.connect(ctx); err == nil {
			return nil
		}

		delay := r.nextBackoff(attempt)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Stop prevents any further reconnection attempts. Idempotent.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

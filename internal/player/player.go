// Package player binds an authoritative playback state (as modeled by
// internal/room) to a local media sink, keeping the sink within a drift
// threshold of that state while rate-limiting the outgoing events user
// interaction with the sink produces.
package player

import (
	"time"

	"watchtogether/internal/ratelimit"
	"watchtogether/internal/room"
)

// DefaultDriftThresholdMs is the minimum position delta, in milliseconds,
// below which a playing sink is left alone rather than re-seeked.
const DefaultDriftThresholdMs = 1000

// DefaultSeekRateLimit bounds how often a user-driven seek is allowed to
// reach the server while scrubbing.
const DefaultSeekRateLimit = 500 * time.Millisecond

// MediaSink is the local media element the player coordinator drives. It is
// an out-of-scope external collaborator: this package only calls it, never
// implements it.
type MediaSink interface {
	PositionMs() int64
	IsPaused() bool
	SetPositionMs(ms int64)
	Play()
	Pause()
}

// NowFunc returns the current local monotonic time in milliseconds. Tests
// substitute a deterministic clock.
type NowFunc func() int64

// Coordinator drives sink into conformance with an authoritative
// room.Medium, and reports user-initiated seeks/play-pause toggles that are
// not the result of a server-driven update.
type Coordinator struct {
	sink        MediaSink
	now         NowFunc
	thresholdMs int64
	onSeek      func(positionMs int64)
	onPlayPause func(paused bool)
	seekLimiter *ratelimit.Limiter

	suppressing bool // true while applying a server-driven update
}

// ForPlayerWithInitialState constructs a Coordinator and immediately applies
// initial to sink. Returns nil if sink is nil; there is nothing to drive.
func ForPlayerWithInitialState(
	sink MediaSink,
	initial room.Medium,
	now NowFunc,
	onSeek func(positionMs int64),
	onPlayPause func(paused bool),
	thresholdMs int64,
	seekRateLimit time.Duration,
) *Coordinator {
	if sink == nil {
		return nil
	}
	if thresholdMs <= 0 {
		thresholdMs = DefaultDriftThresholdMs
	}
	if seekRateLimit <= 0 {
		seekRateLimit = DefaultSeekRateLimit
	}
	c := &Coordinator{
		sink:        sink,
		now:         now,
		thresholdMs: thresholdMs,
		onSeek:      onSeek,
		onPlayPause: onPlayPause,
		seekLimiter: ratelimit.New(seekRateLimit),
	}
	c.Apply(initial)
	return c
}

// Apply drives sink toward the authoritative medium state. Any sink events
// this produces (Play/Pause/SetPositionMs) are treated as server-driven and
// do not fire onSeek/onPlayPause.
func (c *Coordinator) Apply(target room.Medium) {
	c.suppressing = true
	defer func() { c.suppressing = false }()

	switch {
	case target.Paused != nil:
		if !c.sink.IsPaused() {
			c.sink.Pause()
		}
		c.sink.SetPositionMs(target.Paused.PositionInMs)

	case target.Playing != nil:
		derivedPositionMs := c.now() - target.Playing.LocalStartTimeMs
		if c.sink.IsPaused() {
			c.sink.Play()
			c.sink.SetPositionMs(derivedPositionMs)
			return
		}
		drift := c.sink.PositionMs() - derivedPositionMs
		if drift < 0 {
			drift = -drift
		}
		if drift >= c.thresholdMs {
			c.sink.SetPositionMs(derivedPositionMs)
		}
	}
}

// OnSinkSeek is the hook a UI wires to the sink's seek event. It suppresses
// reporting when the seek was caused by Apply, and otherwise rate-limits
// the report so scrubbing produces at most one call per interval.
func (c *Coordinator) OnSinkSeek(positionMs int64) {
	if c.suppressing || c.onSeek == nil {
		return
	}
	c.seekLimiter.Call(func() { c.onSeek(positionMs) })
}

// OnSinkPlayPause is the hook a UI wires to the sink's play/pause toggle
// event. It suppresses reporting when the toggle was caused by Apply.
func (c *Coordinator) OnSinkPlayPause(paused bool) {
	if c.suppressing || c.onPlayPause == nil {
		return
	}
	c.onPlayPause(paused)
}

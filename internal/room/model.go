package room

import "watchtogether/internal/wire"

// PeerIdentity identifies one participant. Two peers are equal iff their
// IDs match.
type PeerIdentity struct {
	ID   uint64
	Name string
}

// PlayingState carries the LOCAL monotonic timestamp at which position 0
// would have played. It is derived from the server's reference-time
// start-time by subtracting the current clock offset (invariant 4).
type PlayingState struct {
	LocalStartTimeMs int64
}

// PausedState carries the paused position in milliseconds.
type PausedState struct {
	PositionInMs int64
}

// MediumKind discriminates the two Medium variants.
type MediumKind int

const (
	MediumEmpty MediumKind = iota
	MediumFixedLength
)

// Medium is the client-side domain representation of the shared medium.
// Only FixedLength carries the remaining fields; Empty carries none.
type Medium struct {
	Kind            MediumKind
	Name            string
	LengthMs        int64
	PlaybackSkipped bool

	// Exactly one of Playing/Paused is populated when Kind == MediumFixedLength.
	Playing *PlayingState
	Paused  *PausedState
}

// IsPlaying reports whether the medium is a FixedLength medium currently
// in the Playing state.
func (m Medium) IsPlaying() bool {
	return m.Kind == MediumFixedLength && m.Playing != nil
}

// VersionedMedium pairs a medium with the server's linearization counter.
// Version is non-decreasing across the coordinator's lifetime (invariant 3).
type VersionedMedium struct {
	Version uint64
	Medium  Medium
}

// FromWire converts a wire-format versioned medium into the domain model,
// translating any playback_state.start_time_in_milliseconds (server
// reference-time domain) into a local monotonic LocalStartTimeMs by
// subtracting offsetMs. This is the only place incoming server-reference
// millis are turned into local monotonic millis; the opposite direction, for
// outgoing play requests, goes through the clock's
// CalculateServerTimeFromLocalTime.
func FromWire(w wire.WireVersionedMedium, offsetMs int64) VersionedMedium {
	vm := VersionedMedium{Version: w.Version}
	if w.Type != wire.MediumTypeFixedLength {
		vm.Medium = Medium{Kind: MediumEmpty}
		return vm
	}
	m := Medium{
		Kind:            MediumFixedLength,
		Name:            w.Name,
		LengthMs:        w.LengthMilliseconds,
		PlaybackSkipped: w.PlaybackSkipped,
	}
	if w.PlaybackState != nil {
		switch w.PlaybackState.Type {
		case wire.PlaybackStatePlaying:
			m.Playing = &PlayingState{
				LocalStartTimeMs: w.PlaybackState.StartTimeInMilliseconds - offsetMs,
			}
		case wire.PlaybackStatePaused:
			m.Paused = &PausedState{PositionInMs: w.PlaybackState.PositionInMilliseconds}
		}
	}
	vm.Medium = m
	return vm
}

// emptyWireMedium and fixedLengthWireMedium build the medium of an outgoing
// insertion request (no playback state attached yet — the server assigns the
// initial paused position).
func emptyWireMedium() wire.WireMedium {
	return wire.WireMedium{Type: wire.MediumTypeEmpty}
}

func fixedLengthWireMedium(name string, lengthMs int64) wire.WireMedium {
	return wire.WireMedium{
		Type:               wire.MediumTypeFixedLength,
		Name:               name,
		LengthMilliseconds: lengthMs,
	}
}

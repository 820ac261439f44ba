// Package wire defines the JSON-shaped request/response/broadcast vocabulary
// exchanged with the synchronized-playback server over a full-duplex text
// channel. Every type here mirrors a frame on the wire; none of them carry
// behavior beyond (de)serialization.
package wire

import "encoding/json"

// EnvelopeKind discriminates the top-level shape of an incoming frame.
type EnvelopeKind string

const (
	KindSuccess   EnvelopeKind = "success"
	KindError     EnvelopeKind = "error"
	KindBroadcast EnvelopeKind = "broadcast"
)

// Envelope is the outer shape every incoming frame decodes into first; Message
// is re-decoded against a concrete payload type once Type is known.
type Envelope struct {
	Type      EnvelopeKind    `json:"type"`
	RequestID *uint64         `json:"request_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// --- Outgoing requests -----------------------------------------------------

// RequestType names the request discriminator sent to the server.
type RequestType string

const (
	RequestRegister         RequestType = "register"
	RequestChat              RequestType = "chat"
	RequestInsertMedium       RequestType = "insert_medium"
	RequestPlay              RequestType = "play"
	RequestPause             RequestType = "pause"
	RequestGetReferenceTime  RequestType = "get_reference_time"
)

// OutgoingRequest is the envelope wrapper applied to every request before
// it is serialized and sent; RequestID is assigned by the session layer.
type OutgoingRequest struct {
	Type      RequestType `json:"type"`
	RequestID uint64      `json:"request_id"`
	Payload   any         `json:"-"`
}

// MarshalJSON flattens Payload's fields alongside Type/RequestID, matching
// the wire shape `{type, request_id, ...payload}`.
func (r OutgoingRequest) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["type"] = mustMarshal(r.Type)
	fields["request_id"] = mustMarshal(r.RequestID)
	return json.Marshal(fields)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// RegisterPayload is the `register` request body.
type RegisterPayload struct {
	Name string `json:"name"`
}

// ChatPayload is the `chat` request body.
type ChatPayload struct {
	Message string `json:"message"`
}

// WireMedium is the `medium` field shape inside insert_medium requests.
type WireMedium struct {
	Type               string `json:"type"`
	Name               string `json:"name,omitempty"`
	LengthMilliseconds int64  `json:"length_in_milliseconds,omitempty"`
}

const (
	MediumTypeEmpty       = "empty"
	MediumTypeFixedLength = "fixed_length"
)

// InsertMediumPayload is the `insert_medium` request body.
type InsertMediumPayload struct {
	PreviousVersion uint64     `json:"previous_version"`
	Medium          WireMedium `json:"medium"`
}

// PlayPayload is the `play` request body.
type PlayPayload struct {
	PreviousVersion         uint64 `json:"previous_version"`
	Skipped                 bool   `json:"skipped"`
	StartTimeInMilliseconds int64  `json:"start_time_in_milliseconds"`
}

// PausePayload is the `pause` request body.
type PausePayload struct {
	PreviousVersion     uint64 `json:"previous_version"`
	Skipped             bool   `json:"skipped"`
	PositionInMilliseconds int64 `json:"position_in_milliseconds"`
}

// --- Incoming success payloads ---------------------------------------------

// SuccessType names the success-message discriminator inside a success
// envelope's `message` field.
type SuccessType string

const (
	SuccessHello         SuccessType = "hello"
	SuccessReferenceTime SuccessType = "reference_time"
	SuccessGeneric       SuccessType = "success"
)

// successTypeOnly is used to peek at the `type` field of a success message
// before unmarshaling the rest of the payload.
type successTypeOnly struct {
	Type SuccessType `json:"type"`
}

// PeekSuccessType reads just the `type` discriminator out of a success
// message without consuming the rest of it.
func PeekSuccessType(message json.RawMessage) (SuccessType, error) {
	var probe successTypeOnly
	if err := json.Unmarshal(message, &probe); err != nil {
		return "", err
	}
	return probe.Type, nil
}

// IsKnownSuccessType reports whether kind is one of the closed set of
// success sub-types this client understands. A matched request carrying any
// other sub-type is a shape error, not a valid response.
func IsKnownSuccessType(kind SuccessType) bool {
	switch kind {
	case SuccessHello, SuccessReferenceTime, SuccessGeneric:
		return true
	default:
		return false
	}
}

// WirePeer describes one participant as seen on the wire.
type WirePeer struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// WirePlaybackState is the `playback_state` field inside a wire medium.
type WirePlaybackState struct {
	Type                    string `json:"type"`
	StartTimeInMilliseconds int64  `json:"start_time_in_milliseconds,omitempty"`
	PositionInMilliseconds  int64  `json:"position_in_milliseconds,omitempty"`
}

const (
	PlaybackStatePlaying = "playing"
	PlaybackStatePaused  = "paused"
)

// WireVersionedMedium is the `current_medium`/`medium` shape as seen on the
// wire: a version tag plus an optional fixed_length body.
type WireVersionedMedium struct {
	Type                   string             `json:"type"`
	Version                uint64             `json:"version"`
	Name                   string             `json:"name,omitempty"`
	LengthMilliseconds     int64              `json:"length_in_milliseconds,omitempty"`
	PlaybackSkipped        bool               `json:"playback_skipped,omitempty"`
	PlaybackState          *WirePlaybackState `json:"playback_state,omitempty"`
}

// HelloMessage is the `hello` success payload returned on registration.
type HelloMessage struct {
	Type          SuccessType         `json:"type"`
	ID            uint64              `json:"id"`
	Clients       []WirePeer          `json:"clients"`
	CurrentMedium WireVersionedMedium `json:"current_medium"`
}

// ReferenceTimeMessage is the `reference_time` success payload.
type ReferenceTimeMessage struct {
	Type         SuccessType `json:"type"`
	Milliseconds int64       `json:"milliseconds"`
}

// GenericSuccessMessage is the bare `success` payload (chat ack, play ack,
// pause ack, insert_medium ack).
type GenericSuccessMessage struct {
	Type SuccessType `json:"type"`
}

// --- Incoming errors --------------------------------------------------------

// ErrorCode enumerates the five wire error codes.
type ErrorCode string

const (
	ErrorInvalidFormat        ErrorCode = "invalid_format"
	ErrorInvalidOperation     ErrorCode = "invalid_operation"
	ErrorInternalServer       ErrorCode = "internal_server_error"
	ErrorIncorrectMediumVersion ErrorCode = "incorrect_medium_version"
	ErrorEmptyChatMessage     ErrorCode = "empty_chat_message"
)

// ErrorMessage is the `message` field of an error envelope.
type ErrorMessage struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
}

// --- Broadcasts --------------------------------------------------------------

// BroadcastType names the broadcast discriminator inside a broadcast
// envelope's `message` field.
type BroadcastType string

const (
	BroadcastClientJoined        BroadcastType = "client_joined"
	BroadcastClientLeft          BroadcastType = "client_left"
	BroadcastChat                BroadcastType = "chat"
	BroadcastMediumStateChanged  BroadcastType = "medium_state_changed"
)

type broadcastTypeOnly struct {
	Type BroadcastType `json:"type"`
}

// PeekBroadcastType reads just the `type` discriminator out of a broadcast
// message without consuming the rest of it.
func PeekBroadcastType(message json.RawMessage) (BroadcastType, error) {
	var probe broadcastTypeOnly
	if err := json.Unmarshal(message, &probe); err != nil {
		return "", err
	}
	return probe.Type, nil
}

// LeftReason enumerates why a peer left, as reported by client_left.
type LeftReason string

const (
	LeftReasonClosed  LeftReason = "closed"
	LeftReasonTimeout LeftReason = "timeout"
)

// ClientJoinedBroadcast is the `client_joined` broadcast payload.
type ClientJoinedBroadcast struct {
	Type         BroadcastType `json:"type"`
	ID           uint64        `json:"id"`
	Name         string        `json:"name"`
	Participants []WirePeer    `json:"participants"`
}

// ClientLeftBroadcast is the `client_left` broadcast payload.
type ClientLeftBroadcast struct {
	Type   BroadcastType `json:"type"`
	ID     uint64        `json:"id"`
	Name   string        `json:"name"`
	Reason LeftReason    `json:"reason"`
}

// ChatBroadcast is the `chat` broadcast payload.
type ChatBroadcast struct {
	Type       BroadcastType `json:"type"`
	SenderID   uint64        `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Message    string        `json:"message"`
	Counter    uint64        `json:"counter"`
}

// MediumStateChangedBroadcast is the `medium_state_changed` broadcast payload.
type MediumStateChangedBroadcast struct {
	Type          BroadcastType       `json:"type"`
	ChangedByID   uint64              `json:"changed_by_id"`
	ChangedByName string              `json:"changed_by_name"`
	Medium        WireVersionedMedium `json:"medium"`
}

// Package clienterr defines the error taxonomy shared across the session,
// clock, room, and player components (spec §7). Each kind is a distinct Go
// type so callers can discriminate with errors.As instead of string
// matching.
package clienterr

import (
	"fmt"

	"watchtogether/internal/wire"
)

// Kind names one of the taxonomy's error categories.
type Kind string

const (
	KindProtocol         Kind = "protocol"
	KindResponse         Kind = "response"
	KindTimeout          Kind = "timeout"
	KindConnectionFailed Kind = "connection_failed"
	KindUnknownBroadcast Kind = "unknown_broadcast"
	KindAlreadyRunning   Kind = "already_running"
	KindPlayerLoad       Kind = "player_load"
)

// ProtocolError reports a malformed frame or an unexpected success sub-type
// on an otherwise-matched request. It is surfaced to the session delegate
// and never kills the session.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }
func (e *ProtocolError) Kind() Kind    { return KindProtocol }

// ResponseError wraps a server-signaled error carrying one of the five wire
// error codes; it propagates as the rejection of the originating request.
type ResponseError struct {
	Code    wire.ErrorCode
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
func (e *ResponseError) Kind() Kind { return KindResponse }

// TimeoutError reports that a pending request exceeded its deadline.
type TimeoutError struct {
	RequestID uint64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %d timed out", e.RequestID)
}
func (e *TimeoutError) Kind() Kind { return KindTimeout }

// ConnectionFailedError reports that the transport could not open a
// connection to endpoint.
type ConnectionFailedError struct {
	Endpoint string
	Cause    error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Endpoint, e.Cause)
}
func (e *ConnectionFailedError) Unwrap() error { return e.Cause }
func (e *ConnectionFailedError) Kind() Kind    { return KindConnectionFailed }

// UnknownBroadcastError is fatal: an unrecognised broadcast type signals
// protocol drift between client and server and is intentionally not
// recoverable.
type UnknownBroadcastError struct {
	Type string
}

func (e *UnknownBroadcastError) Error() string {
	return fmt.Sprintf("unknown broadcast type %q", e.Type)
}
func (e *UnknownBroadcastError) Kind() Kind { return KindUnknownBroadcast }

// AlreadyRunningError reports a double-start of the reference-time
// synchronizer.
type AlreadyRunningError struct{}

func (e *AlreadyRunningError) Error() string { return "reference-time synchronizer already running" }
func (e *AlreadyRunningError) Kind() Kind    { return KindAlreadyRunning }

// PlayerLoadError reports a failure surfaced by the media sink (an
// out-of-scope external collaborator) while loading metadata.
type PlayerLoadError struct {
	Cause error
}

func (e *PlayerLoadError) Error() string {
	return fmt.Sprintf("player load error: %v", e.Cause)
}
func (e *PlayerLoadError) Unwrap() error { return e.Cause }
func (e *PlayerLoadError) Kind() Kind    { return KindPlayerLoad }

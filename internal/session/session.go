// Package session implements the connection layer: it multiplexes
// correlated request/response pairs and server-initiated broadcasts over a
// single transport.Connection, and reports closure or protocol errors to a
// delegate attached once at startup.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"watchtogether/internal/asyncutil"
	"watchtogether/internal/clienterr"
	"watchtogether/internal/wire"
)

// connection is the slice of transport.Connection the session depends on;
// narrowing to an interface keeps the session independently testable with a
// fake transport.
type connection interface {
	SetOnMessage(fn func(data []byte))
	SetOnClose(fn func(err error))
	Send(data []byte) error
	Close() error
}

// RequestDeadline bounds how long performRequest waits for a matching
// response before failing with a TimeoutError.
const RequestDeadline = 10 * time.Second

// CloseReason names why the session ended.
type CloseReason string

const (
	CloseReasonError           CloseReason = "error"
	CloseReasonKickedFromServer CloseReason = "kicked_from_server"
	CloseReasonClientLeft      CloseReason = "client_left"
)

// Response bundles a successfully matched reply with send/receive timing,
// mirroring the wire session's EnrichedResponse.
type Response struct {
	Message   json.RawMessage
	SentAt    time.Time
	ReceivedAt time.Time
}

// Delegate is the capability set a caller attaches exactly once via
// SetDelegate. All four callbacks may be invoked concurrently with respect
// to each other's callers but never concurrently with themselves.
type Delegate struct {
	OnBroadcast            func(kind wire.BroadcastType, message json.RawMessage)
	OnUnassignableResponse func(env wire.Envelope)
	OnClose                func(reason CloseReason)
	OnError                func(err error)
}

// pendingRequest tracks one in-flight performRequest call.
type pendingRequest struct {
	requestType wire.RequestType
	sentAt      time.Time
	resultCh    chan asyncutil.Result[Response]
}

// Session correlates requests with responses and dispatches broadcasts for
// the life of one transport.Connection.
type Session struct {
	conn            connection
	requestDeadline time.Duration

	nextID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]*pendingRequest
	closed   bool
	intentional bool

	delegateMu sync.Mutex
	delegate   Delegate
	hasDelegate bool
}

// New wraps conn in a Session. The background reader is already running on
// conn; call SetDelegate immediately to begin receiving broadcasts and
// errors — any frames that arrived earlier are replayed by transport's own
// backlog.
func New(conn connection) *Session {
	return NewWithDeadline(conn, RequestDeadline)
}

// NewWithDeadline is New with a configurable per-request deadline, e.g. one
// loaded from config.Config.RequestDeadline.
func NewWithDeadline(conn connection, requestDeadline time.Duration) *Session {
	if requestDeadline <= 0 {
		requestDeadline = RequestDeadline
	}
	s := &Session{
		conn:            conn,
		requestDeadline: requestDeadline,
		pending:         make(map[uint64]*pendingRequest),
	}
	conn.SetOnMessage(s.handleFrame)
	conn.SetOnClose(s.handleClose)
	return s
}

// SetDelegate attaches the delegate. Must be called exactly once.
func (s *Session) SetDelegate(d Delegate) {
	s.delegateMu.Lock()
	s.delegate = d
	s.hasDelegate = true
	s.delegateMu.Unlock()
}

// PerformRequest assigns the next correlation id, serializes the request,
// records a pending entry, ships it, and blocks until a matching response
// arrives, the deadline elapses, or the session closes.
func (s *Session) PerformRequest(ctx context.Context, reqType wire.RequestType, payload any) (Response, error) {
	id := s.nextID.Add(1)
	out := wire.OutgoingRequest{Type: reqType, RequestID: id, Payload: payload}
	data, err := json.Marshal(out)
	if err != nil {
		return Response{}, &clienterr.ProtocolError{Reason: "marshal outgoing request", Cause: err}
	}

	resultCh := make(chan asyncutil.Result[Response], 1)
	pr := &pendingRequest{requestType: reqType, sentAt: time.Now(), resultCh: resultCh}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Response{}, &clienterr.TimeoutError{RequestID: id}
	}
	s.pending[id] = pr
	s.mu.Unlock()

	if err := s.conn.Send(data); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	r := asyncutil.WithTimeout(ctx, resultCh, s.requestDeadline, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	})
	if asyncutil.IsTimeout(r.Err) {
		return Response{}, &clienterr.TimeoutError{RequestID: id}
	}
	return r.Value, r.Err
}

// Disconnect marks the close as intentional (the session will report
// CloseReasonClientLeft) and closes the underlying connection.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	s.mu.Unlock()
	s.conn.Close()
}

func (s *Session) handleFrame(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.emitError(&clienterr.ProtocolError{Reason: "malformed frame", Cause: err})
		return
	}

	switch env.Type {
	case wire.KindSuccess:
		s.handleSuccess(env)
	case wire.KindError:
		s.handleError(env)
	case wire.KindBroadcast:
		s.handleBroadcast(env)
	default:
		s.emitError(&clienterr.ProtocolError{Reason: fmt.Sprintf("unrecognised envelope type %q", env.Type)})
	}
}

func (s *Session) handleSuccess(env wire.Envelope) {
	receivedAt := time.Now()
	if env.RequestID == nil {
		s.emitUnassignable(env)
		return
	}
	pr := s.takePending(*env.RequestID)
	if pr == nil {
		s.emitUnassignable(env)
		return
	}

	kind, err := wire.PeekSuccessType(env.Message)
	if err != nil {
		pr.resultCh <- asyncutil.Result[Response]{Err: &clienterr.ProtocolError{Reason: "malformed success message", Cause: err}}
		return
	}
	if !wire.IsKnownSuccessType(kind) {
		pr.resultCh <- asyncutil.Result[Response]{Err: &clienterr.ProtocolError{Reason: fmt.Sprintf("unrecognised success sub-type %q", kind)}}
		return
	}

	pr.resultCh <- asyncutil.Result[Response]{Value: Response{
		Message:    env.Message,
		SentAt:     pr.sentAt,
		ReceivedAt: receivedAt,
	}}
}

func (s *Session) handleError(env wire.Envelope) {
	if env.RequestID == nil {
		s.emitUnassignable(env)
		return
	}
	pr := s.takePending(*env.RequestID)
	if pr == nil {
		s.emitUnassignable(env)
		return
	}
	var em wire.ErrorMessage
	if err := json.Unmarshal(env.Message, &em); err != nil {
		pr.resultCh <- asyncutil.Result[Response]{Err: &clienterr.ProtocolError{Reason: "malformed error message", Cause: err}}
		return
	}
	pr.resultCh <- asyncutil.Result[Response]{Err: &clienterr.ResponseError{Code: em.Error, Message: em.Message}}
}

func (s *Session) handleBroadcast(env wire.Envelope) {
	kind, err := wire.PeekBroadcastType(env.Message)
	if err != nil {
		s.emitError(&clienterr.ProtocolError{Reason: "malformed broadcast", Cause: err})
		return
	}
	s.delegateMu.Lock()
	d := s.delegate
	s.delegateMu.Unlock()
	if d.OnBroadcast != nil {
		d.OnBroadcast(kind, env.Message)
	}
}

func (s *Session) takePending(id uint64) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return pr
}

func (s *Session) emitUnassignable(env wire.Envelope) {
	s.delegateMu.Lock()
	d := s.delegate
	s.delegateMu.Unlock()
	if d.OnUnassignableResponse != nil {
		d.OnUnassignableResponse(env)
	}
}

func (s *Session) emitError(err error) {
	s.delegateMu.Lock()
	d := s.delegate
	s.delegateMu.Unlock()
	if d.OnError != nil {
		d.OnError(err)
	}
}

func (s *Session) handleClose(closeErr error) {
	s.mu.Lock()
	s.closed = true
	intentional := s.intentional
	type idAndPending struct {
		id uint64
		pr *pendingRequest
	}
	outstanding := make([]idAndPending, 0, len(s.pending))
	for id, pr := range s.pending {
		outstanding = append(outstanding, idAndPending{id, pr})
		delete(s.pending, id)
	}
	s.mu.Unlock()

	// Immediate-on-close rejection: every request still outstanding at close
	// fails right away rather than waiting out its own deadline.
	for _, o := range outstanding {
		select {
		case o.pr.resultCh <- asyncutil.Result[Response]{Err: &clienterr.TimeoutError{RequestID: o.id}}:
		default:
		}
	}

	reason := CloseReasonError
	switch {
	case intentional:
		reason = CloseReasonClientLeft
	case closeErr == nil:
		reason = CloseReasonKickedFromServer
	}

	s.delegateMu.Lock()
	d := s.delegate
	s.delegateMu.Unlock()
	if d.OnClose != nil {
		d.OnClose(reason)
	}
}

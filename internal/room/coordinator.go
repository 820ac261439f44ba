package room

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"watchtogether/internal/broker"
	"watchtogether/internal/clienterr"
	"watchtogether/internal/session"
	"watchtogether/internal/wire"
)

// PeerEventKind discriminates the membership-change notifications emitted
// on the peer broker.
type PeerEventKind int

const (
	PeerEventJoined PeerEventKind = iota
	PeerEventLeft
	PeerEventRefreshed
)

// PeerEvent is delivered to peer-change subscribers.
type PeerEvent struct {
	Kind   PeerEventKind
	Peer   PeerIdentity
	Reason wire.LeftReason // populated only for PeerEventLeft
}

// ChatEvent is delivered to chat subscribers for messages authored by a
// peer other than self (self-authored chat is suppressed at the source).
type ChatEvent struct {
	Sender  PeerIdentity
	Message string
}

// MediumEventKind discriminates the medium-state notifications emitted on
// the medium broker.
type MediumEventKind int

const (
	MediumEventChangedByOurself MediumEventKind = iota
	MediumEventChangedByPeer
	MediumEventTimeAdjusted
)

// MediumEvent is delivered to medium-state subscribers.
type MediumEvent struct {
	Kind      MediumEventKind
	Medium    VersionedMedium
	ChangedBy PeerIdentity // populated only for MediumEventChangedByPeer
	DeltaMs   int64        // populated only for MediumEventTimeAdjusted
}

// sessionLike is the slice of session.Session the coordinator depends on.
type sessionLike interface {
	PerformRequest(ctx context.Context, reqType wire.RequestType, payload any) (session.Response, error)
	SetDelegate(d session.Delegate)
	Disconnect()
}

// clockLike is the slice of clocksync.Synchronizer the coordinator depends
// on. Kept as a local interface (rather than importing clocksync directly)
// so the coordinator is independently testable with a fake clock.
type clockLike interface {
	OffsetMs() int64
	CalculateServerTimeFromLocalTime(localMs int64) int64
	Start(ctx context.Context, onChange func(deltaMs int64)) error
	Stop()
}

// Coordinator is the client-side model of the shared room: membership, the
// versioned medium, and the optimistic-update/broadcast-reconciliation
// machinery that keeps them in sync with the server.
type Coordinator struct {
	sess   sessionLike
	clock  clockLike
	log    zerolog.Logger
	onClose func(reason session.CloseReason)
	onFatal func(err error)

	selfID   uint64
	selfName string

	mu          sync.Mutex
	membership  map[uint64]PeerIdentity
	memberOrder []uint64 // join order, excluding self; Peers() walks this rather than ranging the map
	medium      VersionedMedium

	peerBroker   *broker.Broker[PeerEvent]
	chatBroker   *broker.Broker[ChatEvent]
	mediumBroker *broker.Broker[MediumEvent]
}

// New constructs a Coordinator from a completed registration handshake: it
// seeds membership and the versioned medium from hello, starts the clock
// synchronizer's periodic sampling, and attaches itself as sess's delegate.
//
// onClose is invoked exactly once when the session ends. onFatal is invoked
// when an unrecognised broadcast type arrives — by spec this is
// unrecoverable and signals protocol drift between client and server.
func New(
	ctx context.Context,
	sess sessionLike,
	clock clockLike,
	hello wire.HelloMessage,
	selfName string,
	log zerolog.Logger,
	onClose func(reason session.CloseReason),
	onFatal func(err error),
) (*Coordinator, error) {
	c := &Coordinator{
		sess:         sess,
		clock:        clock,
		log:          log,
		onClose:      onClose,
		onFatal:      onFatal,
		selfID:       hello.ID,
		selfName:     selfName,
		membership:   make(map[uint64]PeerIdentity, len(hello.Clients)),
		medium:       FromWire(hello.CurrentMedium, clock.OffsetMs()),
		peerBroker:   broker.New[PeerEvent](),
		chatBroker:   broker.New[ChatEvent](),
		mediumBroker: broker.New[MediumEvent](),
	}
	for _, p := range hello.Clients {
		if p.ID == c.selfID {
			continue
		}
		c.membership[p.ID] = PeerIdentity{ID: p.ID, Name: p.Name}
		c.memberOrder = append(c.memberOrder, p.ID)
	}

	sess.SetDelegate(session.Delegate{
		OnBroadcast: c.handleBroadcast,
		OnClose:     c.handleClose,
		OnError: func(err error) {
			c.log.Error().Err(err).Msg("session reported an error")
		},
		OnUnassignableResponse: func(env wire.Envelope) {
			c.log.Warn().Str("type", string(env.Type)).Msg("received a response with no matching pending request")
		},
	})

	if err := clock.Start(ctx, c.handleOffsetChange); err != nil {
		return nil, err
	}
	return c, nil
}

// AsPeer returns this client's own identity.
func (c *Coordinator) AsPeer() PeerIdentity {
	return PeerIdentity{ID: c.selfID, Name: c.selfName}
}

// Medium returns a snapshot of the current versioned medium.
func (c *Coordinator) Medium() VersionedMedium {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.medium
}

// Peers returns a snapshot of the current membership, excluding self, in
// join order. Ranging membership directly would not do — Go randomizes map
// iteration order, which would make this non-deterministic across calls.
func (c *Coordinator) Peers() []PeerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerIdentity, 0, len(c.memberOrder))
	for _, id := range c.memberOrder {
		out = append(out, c.membership[id])
	}
	return out
}

func (c *Coordinator) SubscribeToPeerChanges(h func(PeerEvent)) broker.Unsubscribe {
	return c.peerBroker.Subscribe(h)
}

func (c *Coordinator) SubscribeToChatMessages(h func(ChatEvent)) broker.Unsubscribe {
	return c.chatBroker.Subscribe(h)
}

func (c *Coordinator) SubscribeToMediumStateChanges(h func(MediumEvent)) broker.Unsubscribe {
	return c.mediumBroker.Subscribe(h)
}

// SendChatMessage issues a Chat request and resolves on the server's ack.
func (c *Coordinator) SendChatMessage(ctx context.Context, text string) error {
	_, err := c.sess.PerformRequest(ctx, wire.RequestChat, wire.ChatPayload{Message: text})
	return err
}

// InsertFixedLengthMedium issues InsertMedium with the current version. If
// no broadcast has advanced the version past the one captured before
// sending, the tentative new medium is installed locally and
// MediumEventChangedByOurself is emitted; otherwise the server's broadcast
// has already overtaken it and the tentative update is discarded.
func (c *Coordinator) InsertFixedLengthMedium(ctx context.Context, name string, lengthMs int64) error {
	c.mu.Lock()
	prevVersion := c.medium.Version
	c.mu.Unlock()

	_, err := c.sess.PerformRequest(ctx, wire.RequestInsertMedium, wire.InsertMediumPayload{
		PreviousVersion: prevVersion,
		Medium:          fixedLengthWireMedium(name, lengthMs),
	})
	if err != nil {
		return err
	}

	tentative := VersionedMedium{
		Version: prevVersion + 1,
		Medium: Medium{
			Kind:     MediumFixedLength,
			Name:     name,
			LengthMs: lengthMs,
			Paused:   &PausedState{PositionInMs: 0},
		},
	}
	c.installOptimisticUpdate(prevVersion, tentative)
	return nil
}

// EjectMedium issues InsertMedium with an Empty medium, following the same
// optimistic-install-or-discard pattern as InsertFixedLengthMedium.
func (c *Coordinator) EjectMedium(ctx context.Context) error {
	c.mu.Lock()
	prevVersion := c.medium.Version
	c.mu.Unlock()

	_, err := c.sess.PerformRequest(ctx, wire.RequestInsertMedium, wire.InsertMediumPayload{
		PreviousVersion: prevVersion,
		Medium:          emptyWireMedium(),
	})
	if err != nil {
		return err
	}

	tentative := VersionedMedium{Version: prevVersion + 1, Medium: Medium{Kind: MediumEmpty}}
	c.installOptimisticUpdate(prevVersion, tentative)
	return nil
}

func (c *Coordinator) installOptimisticUpdate(prevVersion uint64, tentative VersionedMedium) {
	c.mu.Lock()
	if c.medium.Version != prevVersion {
		// A broadcast overtook our ack; discard the tentative update.
		c.mu.Unlock()
		return
	}
	c.medium = tentative
	c.mu.Unlock()
	c.mediumBroker.Notify(MediumEvent{Kind: MediumEventChangedByOurself, Medium: tentative})
}

// Play converts localStartMs into server reference time and issues Play
// with the current version. The resulting authoritative state is learned
// from the subsequent medium_state_changed broadcast, not installed here.
func (c *Coordinator) Play(ctx context.Context, localStartMs int64, skipped bool) error {
	c.mu.Lock()
	prevVersion := c.medium.Version
	c.mu.Unlock()
	serverMs := c.clock.CalculateServerTimeFromLocalTime(localStartMs)
	_, err := c.sess.PerformRequest(ctx, wire.RequestPlay, wire.PlayPayload{
		PreviousVersion:         prevVersion,
		Skipped:                 skipped,
		StartTimeInMilliseconds: serverMs,
	})
	return err
}

// Pause issues Pause with the current version. positionMs is a track
// position, not a timestamp, so no clock translation applies.
func (c *Coordinator) Pause(ctx context.Context, positionMs int64, skipped bool) error {
	c.mu.Lock()
	prevVersion := c.medium.Version
	c.mu.Unlock()
	_, err := c.sess.PerformRequest(ctx, wire.RequestPause, wire.PausePayload{
		PreviousVersion:        prevVersion,
		Skipped:                skipped,
		PositionInMilliseconds: positionMs,
	})
	return err
}

// Logout disconnects the session.
func (c *Coordinator) Logout() {
	c.sess.Disconnect()
}

func (c *Coordinator) handleBroadcast(kind wire.BroadcastType, message json.RawMessage) {
	switch kind {
	case wire.BroadcastClientJoined:
		c.handleClientJoined(message)
	case wire.BroadcastClientLeft:
		c.handleClientLeft(message)
	case wire.BroadcastChat:
		c.handleChat(message)
	case wire.BroadcastMediumStateChanged:
		c.handleMediumStateChanged(message)
	default:
		if c.onFatal != nil {
			c.onFatal(&clienterr.UnknownBroadcastError{Type: string(kind)})
		}
	}
}

func (c *Coordinator) handleClientJoined(message json.RawMessage) {
	var b wire.ClientJoinedBroadcast
	if err := json.Unmarshal(message, &b); err != nil {
		c.log.Error().Err(err).Msg("malformed client_joined broadcast")
		return
	}

	if b.ID == c.selfID && b.Name == c.selfName {
		fresh := make(map[uint64]PeerIdentity, len(b.Participants))
		order := make([]uint64, 0, len(b.Participants))
		for _, p := range b.Participants {
			if p.ID == c.selfID {
				continue
			}
			fresh[p.ID] = PeerIdentity{ID: p.ID, Name: p.Name}
			order = append(order, p.ID)
		}
		c.mu.Lock()
		c.membership = fresh
		c.memberOrder = order
		c.mu.Unlock()
		c.peerBroker.Notify(PeerEvent{Kind: PeerEventRefreshed})
		return
	}

	peer := PeerIdentity{ID: b.ID, Name: b.Name}
	c.mu.Lock()
	if _, exists := c.membership[b.ID]; !exists {
		c.memberOrder = append(c.memberOrder, b.ID)
	}
	c.membership[b.ID] = peer
	c.mu.Unlock()
	c.peerBroker.Notify(PeerEvent{Kind: PeerEventJoined, Peer: peer})
}

func (c *Coordinator) handleClientLeft(message json.RawMessage) {
	var b wire.ClientLeftBroadcast
	if err := json.Unmarshal(message, &b); err != nil {
		c.log.Error().Err(err).Msg("malformed client_left broadcast")
		return
	}

	c.mu.Lock()
	peer, ok := c.membership[b.ID]
	if ok {
		delete(c.membership, b.ID)
		for i, id := range c.memberOrder {
			if id == b.ID {
				c.memberOrder = append(c.memberOrder[:i], c.memberOrder[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn().Uint64("id", b.ID).Msg("client_left for unknown peer, ignoring")
		return
	}
	c.peerBroker.Notify(PeerEvent{Kind: PeerEventLeft, Peer: peer, Reason: b.Reason})
}

func (c *Coordinator) handleChat(message json.RawMessage) {
	var b wire.ChatBroadcast
	if err := json.Unmarshal(message, &b); err != nil {
		c.log.Error().Err(err).Msg("malformed chat broadcast")
		return
	}
	if b.SenderID == c.selfID {
		return
	}
	c.chatBroker.Notify(ChatEvent{
		Sender:  PeerIdentity{ID: b.SenderID, Name: b.SenderName},
		Message: b.Message,
	})
}

func (c *Coordinator) handleMediumStateChanged(message json.RawMessage) {
	var b wire.MediumStateChangedBroadcast
	if err := json.Unmarshal(message, &b); err != nil {
		c.log.Error().Err(err).Msg("malformed medium_state_changed broadcast")
		return
	}

	vm := FromWire(b.Medium, c.clock.OffsetMs())
	c.mu.Lock()
	c.medium = vm
	c.mu.Unlock()

	if b.ChangedByID == c.selfID {
		return
	}
	c.mediumBroker.Notify(MediumEvent{
		Kind:      MediumEventChangedByPeer,
		Medium:    vm,
		ChangedBy: PeerIdentity{ID: b.ChangedByID, Name: b.ChangedByName},
	})
}

func (c *Coordinator) handleOffsetChange(deltaMs int64) {
	c.mu.Lock()
	if c.medium.Medium.Playing == nil {
		c.mu.Unlock()
		return
	}
	adjusted := c.medium
	adjusted.Medium.Playing = &PlayingState{LocalStartTimeMs: c.medium.Medium.Playing.LocalStartTimeMs + deltaMs}
	c.medium = adjusted
	c.mu.Unlock()
	c.mediumBroker.Notify(MediumEvent{Kind: MediumEventTimeAdjusted, Medium: adjusted, DeltaMs: deltaMs})
}

func (c *Coordinator) handleClose(reason session.CloseReason) {
	c.clock.Stop()
	if c.onClose != nil {
		c.onClose(reason)
	}
}

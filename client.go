// Package watchtogether bridges the four core components — transport,
// session, clock synchronizer, and room coordinator — behind one thin
// Client, the seam a real UI (out of scope; see internal/player.MediaSink)
// would bind against.
package watchtogether

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"watchtogether/internal/broker"
	"watchtogether/internal/clienterr"
	"watchtogether/internal/clocksync"
	"watchtogether/internal/config"
	"watchtogether/internal/logging"
	"watchtogether/internal/player"
	"watchtogether/internal/reconnect"
	"watchtogether/internal/room"
	"watchtogether/internal/session"
	"watchtogether/internal/telemetry"
	"watchtogether/internal/transport"
	"watchtogether/internal/wire"
)

// metricsSampleInterval is how often Client refreshes its gauge-shaped
// metrics from the live clock/room state.
const metricsSampleInterval = 5 * time.Second

// Client bridges Transport -> Connection -> clock sync -> Room Coordinator,
// and attaches a Reconnector that re-runs the whole handshake after an
// unintended close. Keep this struct thin — delegate to the components.
type Client struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *telemetry.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	sess        *session.Session
	clock       *clocksync.Synchronizer
	room        *room.Coordinator
	reconnector *reconnect.Reconnector

	metricsStop chan struct{}
	metricsOnce sync.Once
}

// Register dials cfg.Endpoint, completes the register handshake, and
// returns a Client ready to use. The returned Client owns a background
// context derived from ctx; call Logout to tear everything down.
func Register(ctx context.Context, cfg config.Config) (*Client, error) {
	log := logging.New(logging.Config{
		Level:  logging.Level(cfg.LogLevel),
		Format: logging.Format(cfg.LogFormat),
	})
	return RegisterWithLogger(ctx, cfg, log)
}

// RegisterWithLogger is Register with an externally-constructed logger,
// for embedders that already have a zerolog.Logger (e.g. a CLI that shares
// one root logger across subsystems).
func RegisterWithLogger(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Client, error) {
	clientCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		cfg:         cfg,
		log:         log,
		metrics:     telemetry.New(),
		ctx:         clientCtx,
		cancel:      cancel,
		metricsStop: make(chan struct{}),
	}
	ladder := reconnect.BuildLadder(cfg.ReconnectMinBackoff, cfg.ReconnectMaxBackoff)
	c.reconnector = reconnect.NewWithLadder(c.connectOnce, ladder)

	if err := c.connectOnce(clientCtx); err != nil {
		cancel()
		return nil, err
	}
	go c.metricsLoop()
	return c, nil
}

// connectOnce performs one full dial-register-synchronize-join handshake
// and, on success, swaps it in as the client's live session. It is both
// the initial connect path and the Reconnector's Connector.
func (c *Client) connectOnce(ctx context.Context) error {
	conn, err := transport.Connect(ctx, c.cfg.Endpoint, c.cfg.Token)
	if err != nil {
		c.log.Error().Err(err).Msg("connect failed")
		return err
	}

	sess := session.NewWithDeadline(conn, c.cfg.RequestDeadline)

	clock, err := clocksync.CreateInitializedWithInterval(ctx, sess, c.cfg.ReferenceSampleInterval)
	if err != nil {
		sess.Disconnect()
		c.log.Error().Err(err).Msg("initial clock sample failed")
		return err
	}

	resp, err := sess.PerformRequest(ctx, wire.RequestRegister, wire.RegisterPayload{Name: c.cfg.Name})
	if err != nil {
		sess.Disconnect()
		c.log.Error().Err(err).Msg("register failed")
		return err
	}

	var hello wire.HelloMessage
	if err := json.Unmarshal(resp.Message, &hello); err != nil {
		sess.Disconnect()
		return &clienterr.ProtocolError{Reason: "decoding hello message", Cause: err}
	}

	coordinator, err := room.New(ctx, sess, clock, hello, c.cfg.Name, c.log, c.handleRoomClose, c.handleRoomFatal)
	if err != nil {
		sess.Disconnect()
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.clock = clock
	c.room = coordinator
	c.mu.Unlock()

	c.log.Info().Uint64("self_id", hello.ID).Str("name", c.cfg.Name).Msg("registered")
	return nil
}

// handleRoomClose reacts to the session ending. A deliberate Logout already
// stopped the reconnector before closing, so only unintended closes trigger
// automatic re-registration.
func (c *Client) handleRoomClose(reason session.CloseReason) {
	c.log.Warn().Str("reason", string(reason)).Msg("session closed")
	if reason == session.CloseReasonClientLeft {
		return
	}
	c.metrics.ReconnectAttempts.Inc()
	go func() {
		if err := c.reconnector.Run(c.ctx); err != nil {
			c.log.Error().Err(err).Msg("reconnection gave up")
		}
	}()
}

// handleRoomFatal reacts to an unrecognised broadcast type, which by spec is
// unrecoverable: it signals protocol drift between client and server. This
// client logs and disconnects rather than attempting to continue.
func (c *Client) handleRoomFatal(err error) {
	c.log.Error().Err(err).Msg("fatal protocol error, disconnecting")
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.Disconnect()
	}
}

// metricsLoop periodically samples clock offset and medium version onto
// gauges, mirroring the teacher's adaptBitrateLoop cached-metrics ticker.
func (c *Client) metricsLoop() {
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.metricsStop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			clock, coordinator := c.clock, c.room
			c.mu.Unlock()
			if clock != nil {
				c.metrics.OffsetMs.Set(float64(clock.OffsetMs()))
			}
			if coordinator != nil {
				c.metrics.MediumVersion.Set(float64(coordinator.Medium().Version))
			}
		}
	}
}

func (c *Client) current() (*room.Coordinator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return nil, fmt.Errorf("not registered")
	}
	return c.room, nil
}

// AsPeer returns this client's own identity.
func (c *Client) AsPeer() (room.PeerIdentity, error) {
	r, err := c.current()
	if err != nil {
		return room.PeerIdentity{}, err
	}
	return r.AsPeer(), nil
}

// Peers returns the other participants currently in the room.
func (c *Client) Peers() ([]room.PeerIdentity, error) {
	r, err := c.current()
	if err != nil {
		return nil, err
	}
	return r.Peers(), nil
}

// Medium returns the current versioned medium.
func (c *Client) Medium() (room.VersionedMedium, error) {
	r, err := c.current()
	if err != nil {
		return room.VersionedMedium{}, err
	}
	return r.Medium(), nil
}

// SubscribeToPeerChanges registers h for every peer join/leave/refresh event.
func (c *Client) SubscribeToPeerChanges(h func(room.PeerEvent)) (broker.Unsubscribe, error) {
	r, err := c.current()
	if err != nil {
		return nil, err
	}
	return r.SubscribeToPeerChanges(h), nil
}

// SubscribeToChatMessages registers h for every chat message broadcast.
func (c *Client) SubscribeToChatMessages(h func(room.ChatEvent)) (broker.Unsubscribe, error) {
	r, err := c.current()
	if err != nil {
		return nil, err
	}
	return r.SubscribeToChatMessages(h), nil
}

// SubscribeToMediumStateChanges registers h for every medium state change,
// whether caused by this client, a peer, or a clock offset adjustment.
func (c *Client) SubscribeToMediumStateChanges(h func(room.MediumEvent)) (broker.Unsubscribe, error) {
	r, err := c.current()
	if err != nil {
		return nil, err
	}
	return r.SubscribeToMediumStateChanges(h), nil
}

// SendChatMessage sends a chat message for fan-out to all participants.
func (c *Client) SendChatMessage(ctx context.Context, text string) error {
	r, err := c.current()
	if err != nil {
		return err
	}
	return r.SendChatMessage(ctx, text)
}

// InsertFixedLengthMedium asks the server to insert a named, fixed-length
// medium into the room.
func (c *Client) InsertFixedLengthMedium(ctx context.Context, name string, lengthMs int64) error {
	r, err := c.current()
	if err != nil {
		return err
	}
	return r.InsertFixedLengthMedium(ctx, name, lengthMs)
}

// EjectMedium asks the server to clear the current medium.
func (c *Client) EjectMedium(ctx context.Context) error {
	r, err := c.current()
	if err != nil {
		return err
	}
	return r.EjectMedium(ctx)
}

// Logout deliberately ends the session. The reconnector is stopped first so
// the resulting close is never mistaken for an unintended one.
func (c *Client) Logout() {
	c.reconnector.Stop()
	c.metricsOnce.Do(func() { close(c.metricsStop) })
	c.mu.Lock()
	r := c.room
	c.mu.Unlock()
	if r != nil {
		r.Logout()
	}
	c.cancel()
}

// AttachPlayer binds sink to this client's room state: it is immediately
// driven to the current medium, kept within the player's drift threshold as
// the medium changes, and its user-driven seeks/play-pause toggles are
// forwarded back to the room as Play/Pause requests.
//
// Returns nil if sink is nil or the client has not completed registration.
func (c *Client) AttachPlayer(sink player.MediaSink) *player.Coordinator {
	r, err := c.current()
	if err != nil || sink == nil {
		return nil
	}

	now := func() int64 { return time.Now().UnixMilli() }

	pc := player.ForPlayerWithInitialState(
		sink,
		r.Medium().Medium,
		now,
		func(positionMs int64) { c.handleSinkSeek(r, now, positionMs) },
		func(paused bool) { c.handleSinkPlayPause(r, sink, now, paused) },
		c.cfg.PlayerDriftThresholdMs,
		c.cfg.SeekRateLimitInterval,
	)

	r.SubscribeToMediumStateChanges(func(ev room.MediumEvent) {
		pc.Apply(ev.Medium.Medium)
	})

	return pc
}

func (c *Client) handleSinkSeek(r *room.Coordinator, now func() int64, positionMs int64) {
	current := r.Medium().Medium
	if current.IsPlaying() {
		if err := r.Play(c.ctx, now()-positionMs, true); err != nil {
			c.log.Warn().Err(err).Msg("seek-driven play request failed")
		}
		return
	}
	if err := r.Pause(c.ctx, positionMs, true); err != nil {
		c.log.Warn().Err(err).Msg("seek-driven pause request failed")
	}
}

func (c *Client) handleSinkPlayPause(r *room.Coordinator, sink player.MediaSink, now func() int64, paused bool) {
	if paused {
		if err := r.Pause(c.ctx, sink.PositionMs(), false); err != nil {
			c.log.Warn().Err(err).Msg("pause request failed")
		}
		return
	}
	if err := r.Play(c.ctx, now()-sink.PositionMs(), false); err != nil {
		c.log.Warn().Err(err).Msg("play request failed")
	}
}

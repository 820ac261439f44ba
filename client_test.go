package watchtogether

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"watchtogether/internal/config"
	"watchtogether/internal/wire"
)

// fakeRoomServer answers just enough of the wire protocol to carry Register
// through its dial-register-synchronize-join handshake: one reference_time
// sample and one register response bearing an empty room. Every other frame
// it receives (chat, play, pause, insert_medium) is acknowledged generically,
// so facade methods exercised against it resolve instead of hanging.
func fakeRoomServer(t *testing.T) string {
	t.Helper()
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var probe struct {
				Type      wire.RequestType `json:"type"`
				RequestID uint64           `json:"request_id"`
			}
			if json.Unmarshal(data, &probe) != nil {
				return
			}
			var reply wire.Envelope
			switch probe.Type {
			case wire.RequestGetReferenceTime:
				reply = successEnvelopeFor(probe.RequestID, wire.ReferenceTimeMessage{
					Type:         wire.SuccessReferenceTime,
					Milliseconds: time.Now().UnixMilli(),
				})
			case wire.RequestRegister:
				reply = successEnvelopeFor(probe.RequestID, wire.HelloMessage{
					Type:    wire.SuccessHello,
					ID:      1,
					Clients: nil,
					CurrentMedium: wire.WireVersionedMedium{
						Type:    wire.MediumTypeEmpty,
						Version: 0,
					},
				})
			default:
				reply = successEnvelopeFor(probe.RequestID, wire.GenericSuccessMessage{Type: wire.SuccessGeneric})
			}
			raw, err := json.Marshal(reply)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	return u.Host
}

func successEnvelopeFor(requestID uint64, message any) wire.Envelope {
	raw, err := json.Marshal(message)
	if err != nil {
		panic(err)
	}
	return wire.Envelope{Type: wire.KindSuccess, RequestID: &requestID, Message: raw}
}

func testConfig(endpoint string) config.Config {
	return config.Config{
		Endpoint:                endpoint,
		Name:                    "alice",
		RequestDeadline:         time.Second,
		ReferenceSampleInterval: time.Minute,
		PlayerDriftThresholdMs:  1000,
		SeekRateLimitInterval:   500 * time.Millisecond,
		ReconnectMinBackoff:     10 * time.Millisecond,
		ReconnectMaxBackoff:     time.Second,
		LogLevel:                "error",
		LogFormat:               "console",
	}
}

func TestRegisterCompletesHandshakeAndExposesSelf(t *testing.T) {
	addr := fakeRoomServer(t)
	client, err := Register(context.Background(), testConfig(addr))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer client.Logout()

	peer, err := client.AsPeer()
	if err != nil {
		t.Fatalf("AsPeer failed: %v", err)
	}
	if peer.ID != 1 || peer.Name != "alice" {
		t.Errorf("AsPeer() = %+v, want id=1 name=alice", peer)
	}
}

func TestSendChatMessageBeforeRegisterFails(t *testing.T) {
	c := &Client{}
	if err := c.SendChatMessage(context.Background(), "hi"); err == nil {
		t.Fatal("expected an error before registration completes")
	}
}

func TestAttachPlayerReturnsNilForNilSink(t *testing.T) {
	addr := fakeRoomServer(t)
	client, err := Register(context.Background(), testConfig(addr))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer client.Logout()

	if pc := client.AttachPlayer(nil); pc != nil {
		t.Error("expected nil Coordinator for a nil sink")
	}
}

func TestAttachPlayerBeforeRegisterReturnsNil(t *testing.T) {
	c := &Client{}
	if pc := c.AttachPlayer(nil); pc != nil {
		t.Error("expected nil Coordinator before registration completes")
	}
}

func TestSendChatMessageSucceedsAfterRegister(t *testing.T) {
	addr := fakeRoomServer(t)
	client, err := Register(context.Background(), testConfig(addr))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer client.Logout()

	if err := client.SendChatMessage(context.Background(), "hello room"); err != nil {
		t.Errorf("SendChatMessage failed: %v", err)
	}
}

func TestAsPeerStillResolvesAfterLogout(t *testing.T) {
	addr := fakeRoomServer(t)
	client, err := Register(context.Background(), testConfig(addr))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	client.Logout()

	// Logout disconnects the session but leaves the last room snapshot in
	// place, so AsPeer still resolves off cached state rather than erroring.
	if _, err := client.AsPeer(); err != nil {
		t.Errorf("AsPeer after Logout: %v", err)
	}
}

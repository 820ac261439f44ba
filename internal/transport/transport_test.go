package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer starts a test websocket server that echoes every text frame it
// receives back to the sender, and records the token query parameter the
// client connected with.
func echoServer(t *testing.T) (addr string, gotToken *string) {
	t.Helper()
	var upgrader websocket.Upgrader
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	return u.Host, &token
}

func TestConnectSendsTokenAndEchoesMessages(t *testing.T) {
	addr, gotToken := echoServer(t)

	conn, err := Connect(context.Background(), addr, "secret-token")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	received := make(chan []byte, 1)
	conn.SetOnMessage(func(data []byte) { received <- data })

	if err := conn.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Errorf("expected echo of 'hello', got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	if *gotToken != "secret-token" {
		t.Errorf("expected server to see token 'secret-token', got %q", *gotToken)
	}
}

func TestConnectFailsOnUnreachableAddress(t *testing.T) {
	_, err := Connect(context.Background(), "127.0.0.1:1", "")
	if err == nil {
		t.Fatal("expected a connection error")
	}
}

func TestBacklogDeliversMessagesThatArriveBeforeDelegateAttached(t *testing.T) {
	addr, _ := echoServer(t)

	conn, err := Connect(context.Background(), addr, "")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte("early")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	// Give the echo a moment to land in the backlog before a delegate exists.
	time.Sleep(50 * time.Millisecond)

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	conn.SetOnMessage(func(data []byte) {
		mu.Lock()
		got = data
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backlogged message")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "early" {
		t.Errorf("expected backlogged message 'early', got %q", got)
	}
}

func TestOnCloseFiresExactlyOnceOnLocalClose(t *testing.T) {
	addr, _ := echoServer(t)

	conn, err := Connect(context.Background(), addr, "")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn.SetOnMessage(func([]byte) {})

	var calls int
	var mu sync.Mutex
	closed := make(chan struct{})
	conn.SetOnClose(func(err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(closed)
	})

	conn.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onClose")
	}

	// Allow time for any duplicate invocation to surface.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected onClose exactly once, got %d", calls)
	}
}

// closingServer starts a test websocket server that, upon receiving any
// frame, sends a normal-closure close frame back and returns.
func closingServer(t *testing.T) (addr string) {
	t.Helper()
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		conn.WriteMessage(websocket.CloseMessage, closeMsg)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	return u.Host
}

func TestOnCloseReportsNilErrorForCleanRemoteClose(t *testing.T) {
	addr := closingServer(t)

	conn, err := Connect(context.Background(), addr, "")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()
	conn.SetOnMessage(func([]byte) {})

	gotErr := make(chan error, 1)
	conn.SetOnClose(func(err error) { gotErr <- err })

	if err := conn.Send([]byte("trigger close")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case err := <-gotErr:
		if err != nil {
			t.Errorf("expected nil error for a clean remote close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onClose")
	}
}

func TestNormalizeServerAddrRejectsGarbage(t *testing.T) {
	_, err := normalizeServerAddr("://nope")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "invalid server address") {
		t.Errorf("expected an 'invalid server address' error, got %v", err)
	}
}

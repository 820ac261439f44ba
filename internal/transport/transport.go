// Package transport owns the single full-duplex connection to the
// watch-together server: dialing, framing, and delivering inbound frames to
// whatever layer above has attached itself as the delegate.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchtogether/internal/clienterr"
)

// connectTimeout bounds the initial dial. The caller's context only bounds
// the dial as well; once connected, the connection lives until Close or a
// remote close, regardless of that context.
const connectTimeout = 10 * time.Second

// writeWait bounds a single outbound frame write.
const writeWait = 5 * time.Second

// Connection wraps one live websocket session. All exported methods are
// safe for concurrent use.
type Connection struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	// cbMu guards the delegate callbacks. Mirrors the teacher's callback-
	// setter pattern: attach callbacks once after Connect returns, then the
	// background reader fires them for the life of the connection.
	cbMu        sync.RWMutex
	onMessage   func(data []byte)
	onClose     func(err error)
	closeOnce   sync.Once

	// backlog buffers frames that arrive before a delegate is attached, so
	// a message racing the caller's SetOnMessage call is never dropped.
	backlogMu sync.Mutex
	backlog   [][]byte
	delegated bool
}

// Connect dials addr (any form normalizeServerAddr accepts) and authenticates
// with token via a query parameter, per the wire protocol. The returned
// Connection has its background reader already running; attach delegates
// with SetOnMessage/SetOnClose immediately afterward.
func Connect(ctx context.Context, addr, token string) (*Connection, error) {
	normalized, err := normalizeServerAddr(addr)
	if err != nil {
		return nil, &clienterr.ConnectionFailedError{Endpoint: addr, Cause: err}
	}
	dialURL := buildDialURL(addr, normalized, token)

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, dialURL, nil)
	if err != nil {
		return nil, &clienterr.ConnectionFailedError{Endpoint: normalized, Cause: err}
	}

	c := &Connection{conn: conn}
	go c.readLoop()
	return c, nil
}

// SetOnMessage attaches the handler invoked for every inbound frame. Any
// frames received before this call was made are replayed synchronously,
// in order, before SetOnMessage returns.
func (c *Connection) SetOnMessage(fn func(data []byte)) {
	c.cbMu.Lock()
	c.onMessage = fn
	c.cbMu.Unlock()

	c.backlogMu.Lock()
	pending := c.backlog
	c.backlog = nil
	c.delegated = true
	c.backlogMu.Unlock()

	for _, msg := range pending {
		fn(msg)
	}
}

// SetOnClose attaches the handler invoked exactly once when the connection
// ends, whether by local Close, remote close, or a read error.
func (c *Connection) SetOnClose(fn func(err error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onClose = fn
}

// Send writes one frame to the connection.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the connection. Safe to call multiple times and concurrently
// with an in-flight readLoop; the onClose delegate fires at most once.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) readLoop() {
	var closeErr error
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			closeErr = err
			break
		}
		c.deliver(data)
	}

	// A normal or going-away close code is a clean remote closure, not a
	// failure: gorilla/websocket always returns a non-nil *CloseError for it,
	// so it has to be classified here rather than treated as an error by
	// virtue of being non-nil.
	if websocket.IsCloseError(closeErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		closeErr = nil
	}

	c.closeOnce.Do(func() {
		c.cbMu.RLock()
		onClose := c.onClose
		c.cbMu.RUnlock()
		if onClose != nil {
			onClose(closeErr)
		}
	})
}

func (c *Connection) deliver(data []byte) {
	c.backlogMu.Lock()
	if !c.delegated {
		c.backlog = append(c.backlog, data)
		c.backlogMu.Unlock()
		return
	}
	c.backlogMu.Unlock()

	// Read the handler only once delegated is set: SetOnMessage stores it
	// before flipping delegated, so it can no longer be observed as nil here.
	c.cbMu.RLock()
	onMessage := c.onMessage
	c.cbMu.RUnlock()

	if onMessage != nil {
		onMessage(data)
	}
}

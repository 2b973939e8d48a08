// Package websocket implements the streaming transport for the exchange's
// real-time data: a single connection wrapper, stream name helpers, the
// decoded event variants, and a reconnecting connection that survives
// transient failures with jittered exponential backoff.
package websocket

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/market"
)

const (
	handshakeTimeout = 10 * time.Second
	controlTimeout   = 5 * time.Second
)

// Conn wraps one physical WebSocket connection. It decodes inbound frames
// into Events and answers protocol pings transparently; pings are never
// surfaced as application events.
//
// Reads must come from a single goroutine. Writes are serialized internally.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	logger  logging.Logger

	closeMu sync.Mutex
	closed  bool
}

// Dial opens a WebSocket connection to url.
func Dial(ctx context.Context, url string, logger logging.Logger) (*Conn, error) {
	if logger == nil {
		logger = logging.NewLogger()
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Conn{ws: ws, logger: logger}
	ws.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlTimeout))
	})
	return c, nil
}

// ReadEvent blocks until the next application event arrives, the timeout
// expires, or the connection fails. Malformed frames are logged and skipped;
// a timeout or transport failure is returned as an error and the connection
// should be considered dead.
func (c *Conn) ReadEvent(timeout time.Duration) (Event, error) {
	if c.isClosed() {
		return Event{}, market.ErrNotConnected
	}
	for {
		if timeout > 0 {
			if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return Event{}, err
			}
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return Event{}, err
		}

		ev, err := ParseEvent(data)
		if err != nil {
			c.logger.Warn("skipping malformed frame", logging.Error(err))
			continue
		}
		return ev, nil
	}
}

// Ping sends a protocol-level ping frame.
func (c *Conn) Ping() error {
	if c.isClosed() {
		return market.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout))
}

func (c *Conn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// Close sends a close frame on a best-effort basis and tears down the
// connection. Close is idempotent.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"),
		time.Now().Add(controlTimeout),
	)
	c.writeMu.Unlock()

	if err := c.ws.Close(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return err
	}
	return nil
}

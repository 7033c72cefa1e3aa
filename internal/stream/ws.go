package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Envelope is the WebSocket framing of one stream event.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// WSTransport subscribes to the WebSocket mirror of the event stream. The
// http(s) URL handed to Open is rewritten to ws(s) and PathSuffix is appended
// to its path.
type WSTransport struct {
	Dialer     *websocket.Dialer
	Token      string
	PathSuffix string
}

func NewWSTransport(token string) *WSTransport {
	return &WSTransport{
		Dialer:     websocket.DefaultDialer,
		Token:      token,
		PathSuffix: "ws",
	}
}

// WSURL converts an http(s) stream URL into its WebSocket mirror.
func WSURL(raw, suffix string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if suffix != "" {
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		u.Path += suffix
	}
	return u.String(), nil
}

func (t *WSTransport) Open(ctx context.Context, req Request, h Handler) Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{cancel: cancel, handler: h}
	go c.run(ctx, t, req)
	return c
}

type wsConn struct {
	cancel  context.CancelFunc
	handler Handler

	mu      sync.Mutex
	writeMu sync.Mutex // serialises pings with close frames
	conn    *websocket.Conn
	closed  bool
}

func (c *wsConn) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	c.cancel()
	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) run(ctx context.Context, t *WSTransport, req Request) {
	defer c.cancel()

	target, err := WSURL(req.URL, t.PathSuffix)
	if err != nil {
		c.fail(err)
		return
	}

	header := http.Header{}
	if req.LastEventID != "" {
		header.Set("Last-Event-ID", req.LastEventID)
	}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial %s: %d: %w", target, resp.StatusCode, err)
		}
		c.fail(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	go c.pingLoop(ctx, conn)

	c.handler.OnOpen()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.fail(fmt.Errorf("websocket read: %w", err))
			return
		}
		if c.isClosed() {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			// Hand the raw frame on; the monitor reports it as malformed.
			c.handler.OnEvent(Event{Name: DefaultEventName, Data: string(data)})
			continue
		}
		c.handler.OnEvent(Event{ID: env.ID, Name: env.Event, Data: string(env.Data)})
	}
}

// pingLoop keeps the connection alive until ctx is cancelled or a write fails.
func (c *wsConn) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) fail(err error) {
	if c.isClosed() {
		return
	}
	c.handler.OnError(err)
}

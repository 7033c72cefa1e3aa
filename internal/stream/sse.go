package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// SSETransport opens text/event-stream subscriptions over HTTP.
type SSETransport struct {
	Client *http.Client
	Token  string
}

// NewSSETransport creates a transport with a client suited to long-lived
// streams: no overall timeout, but bounded dial and header waits.
func NewSSETransport(token string) *SSETransport {
	return &SSETransport{
		Token: token,
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: 15 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

func (t *SSETransport) Open(ctx context.Context, req Request, h Handler) Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &sseConn{cancel: cancel, handler: h}
	go c.run(ctx, t, req)
	return c
}

type sseConn struct {
	cancel  context.CancelFunc
	handler Handler

	mu     sync.Mutex
	closed bool
}

// Close cancels the request. Callbacks already in flight are suppressed.
func (c *sseConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

func (c *sseConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *sseConn) run(ctx context.Context, t *SSETransport, r Request) {
	defer c.cancel()

	url := r.URL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.fail(err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if r.LastEventID != "" {
		req.Header.Set("Last-Event-ID", r.LastEventID)
	}
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		c.fail(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.fail(fmt.Errorf("GET %s: %d %s", url, resp.StatusCode, string(body)))
		return
	}

	if c.isClosed() {
		return
	}
	c.handler.OnOpen()

	reader := NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			c.fail(fmt.Errorf("event stream: %w", err))
			return
		}
		if c.isClosed() {
			return
		}
		c.handler.OnEvent(ev)
	}
}

func (c *sseConn) fail(err error) {
	if c.isClosed() {
		return
	}
	c.handler.OnError(err)
}

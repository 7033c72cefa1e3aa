// Package stream provides the transports that carry training progress
// events from the dashboard server: a Server-Sent Events client and a
// WebSocket mirror of the same event contract.
package stream

import "context"

// DefaultEventName is the SSE event name used when the server omits one.
const DefaultEventName = "message"

// Event is a single named event with its raw (JSON) body.
type Event struct {
	ID   string
	Name string
	Data string
}

// Request describes one subscription attempt.
type Request struct {
	URL string
	// LastEventID, when set, is sent so the server can resume after it.
	LastEventID string
}

// Handler receives the lifecycle of one connection. Implementations must
// tolerate calls from any goroutine.
type Handler interface {
	OnOpen()
	OnEvent(ev Event)
	// OnError reports that the connection is gone. No further callbacks
	// follow for this connection.
	OnError(err error)
}

// Conn is an open (or opening) subscription.
type Conn interface {
	Close()
}

// Transport opens subscriptions. Open is fire-and-forget: it returns at once
// and never invokes h synchronously; results arrive through h on another
// goroutine. Close suppresses later callbacks, but one already in flight may
// still land, so handlers must recognise a superseded connection.
type Transport interface {
	Open(ctx context.Context, req Request, h Handler) Conn
}

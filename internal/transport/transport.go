// Package transport owns the WebSocket connection to the race server. It
// dials asynchronously and reports everything that happens on a connection
// as events tagged with that connection's id; deciding whether an event is
// stale is the consumer's job, not the transport's.
package transport

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Event is anything a connection attempt reports back to its consumer.
// Every event carries the connection id of the attempt it belongs to.
type Event interface{ ConnID() uint64 }

// Opened reports a successful dial. Conn is live and ready to send.
type Opened struct {
	ID   uint64
	Conn Conn
}

// Failed reports a dial that never produced a connection.
type Failed struct {
	ID  uint64
	Err error
}

// Frame is one complete inbound text message. Fragmented messages are
// reassembled by the websocket layer before they surface here.
type Frame struct {
	ID   uint64
	Text string
}

// SendFailed reports a write that did not reach the wire. The payload is
// returned so the consumer can re-queue it.
type SendFailed struct {
	ID      uint64
	Payload string
	Err     error
}

// Closed reports that the connection is gone, whether by peer close or
// read error.
type Closed struct {
	ID     uint64
	Reason string
}

func (e Opened) ConnID() uint64     { return e.ID }
func (e Failed) ConnID() uint64     { return e.ID }
func (e Frame) ConnID() uint64      { return e.ID }
func (e SendFailed) ConnID() uint64 { return e.ID }
func (e Closed) ConnID() uint64     { return e.ID }

// Sink receives transport events. Implementations marshal them onto the
// consumer's own goroutine before touching any state.
type Sink func(Event)

// Conn is a live connection handle. Send never blocks the caller; writes
// happen on the connection's writer goroutine and failures come back
// through the sink as SendFailed.
type Conn interface {
	ID() uint64
	Send(text string)
	Close(code int, reason string)
}

// Dialer opens connections. The session depends on this interface so tests
// can substitute an in-memory transport.
type Dialer interface {
	Dial(ctx context.Context, uri string, id uint64, sink Sink)
}

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 3 * time.Second
	sendBuffer   = 32
)

// WebsocketDialer dials real race servers.
type WebsocketDialer struct {
	log *zap.Logger
}

func NewWebsocketDialer(log *zap.Logger) *WebsocketDialer {
	return &WebsocketDialer{log: log}
}

// Dial starts a connection attempt and returns immediately. On success the
// sink receives Opened followed by a Frame per inbound message and finally
// Closed; on failure it receives exactly one Failed.
func (d *WebsocketDialer) Dial(ctx context.Context, uri string, id uint64, sink Sink) {
	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()

		ws, _, err := websocket.Dial(dialCtx, uri, nil)
		if err != nil {
			d.log.Debug("dial failed", zap.Uint64("conn", id), zap.Error(err))
			sink(Failed{ID: id, Err: err})
			return
		}

		c := &wsConn{
			id:   id,
			ws:   ws,
			out:  make(chan string, sendBuffer),
			stop: make(chan struct{}),
			sink: sink,
			log:  d.log,
		}
		go c.writeLoop(ctx)
		go c.readLoop(ctx)
		sink(Opened{ID: id, Conn: c})
	}()
}

type wsConn struct {
	id   uint64
	ws   *websocket.Conn
	out  chan string
	stop chan struct{}
	sink Sink
	log  *zap.Logger
}

func (c *wsConn) ID() uint64 { return c.id }

func (c *wsConn) Send(text string) {
	// Once the read loop has closed stop, nothing will drain out, so the
	// message must be reported back rather than parked in the buffer.
	select {
	case <-c.stop:
		c.sink(SendFailed{ID: c.id, Payload: text, Err: context.Canceled})
		return
	default:
	}
	select {
	case c.out <- text:
	case <-c.stop:
		c.sink(SendFailed{ID: c.id, Payload: text, Err: context.Canceled})
	}
}

func (c *wsConn) Close(code int, reason string) {
	_ = c.ws.Close(websocket.StatusCode(code), reason)
}

func (c *wsConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(writeCtx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				c.sink(SendFailed{ID: c.id, Payload: msg, Err: err})
			}
		}
	}
}

func (c *wsConn) readLoop(ctx context.Context) {
	defer close(c.stop)
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			reason := "read error"
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				reason = "closed by peer"
			}
			c.log.Debug("connection closed", zap.Uint64("conn", c.id), zap.Error(err))
			c.sink(Closed{ID: c.id, Reason: reason})
			return
		}
		c.sink(Frame{ID: c.id, Text: string(data)})
	}
}

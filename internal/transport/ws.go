// Package transport connects the engine to a sync server over a
// websocket. It feeds incoming frames into the engine, reports
// connectivity transitions, and re-requests snapshots on its behalf.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncline/syncline/internal/event"
)

const writeTimeout = 10 * time.Second

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Sink receives the connection's output. *engine.Engine satisfies it.
type Sink interface {
	// HandleFrame submits one server frame. A false return means the
	// sink has shut down and the client should stop.
	HandleFrame(f event.Frame) bool

	// ConnectivityChanged reports connect and disconnect transitions.
	ConnectivityChanged(online bool) bool
}

// Client maintains a websocket connection to the sync server,
// reconnecting with capped exponential backoff. It also implements
// engine.SnapshotRequester so the engine can ask the server for fresh
// snapshots after a reconnect.
type Client struct {
	url  string
	sink Sink

	dialer  *websocket.Dialer
	header  http.Header
	minWait time.Duration
	maxWait time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithHeader sets extra handshake headers (e.g., authorization).
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		c.minWait = min
		c.maxWait = max
	}
}

// NewClient builds a client for the given websocket URL. The sink is
// usually the engine.
func NewClient(url string, sink Sink, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		sink:    sink,
		dialer:  websocket.DefaultDialer,
		minWait: defaultMinBackoff,
		maxWait: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run dials and reads until the context is cancelled or the sink shuts
// down. Every dial failure or dropped connection waits out the backoff
// and redials; the backoff resets after each successful connect.
func (c *Client) Run(ctx context.Context) error {
	wait := c.minWait
	for {
		wc, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("sync server dial failed", "url", c.url, "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
			if wait > c.maxWait {
				wait = c.maxWait
			}
			continue
		}
		wait = c.minWait

		slog.Info("sync server connected", "url", c.url)
		c.setConn(wc)
		c.sink.ConnectivityChanged(true)

		err = c.readAll(ctx, wc)

		c.setConn(nil)
		c.sink.ConnectivityChanged(false)
		wc.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == errSinkClosed {
			return nil
		}
		if err != nil {
			slog.Warn("sync server connection lost", "url", c.url, "error", err)
		} else {
			slog.Info("sync server closed the connection", "url", c.url)
		}
	}
}

type sinkClosedError struct{}

func (sinkClosedError) Error() string { return "frame sink closed" }

var errSinkClosed = sinkClosedError{}

// readAll pumps frames from one connection into the sink until the
// connection drops or the context is cancelled.
func (c *Client) readAll(ctx context.Context, wc *websocket.Conn) error {
	// ReadMessage blocks without observing ctx; closing the socket is
	// the only way to interrupt it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			wc.Close()
		case <-done:
		}
	}()

	for {
		op, data, err := wc.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if op != websocket.TextMessage {
			slog.Warn("ignoring non-text message", "opcode", op)
			continue
		}
		var f event.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("dropping unparseable frame", "error", err)
			continue
		}
		if !c.sink.HandleFrame(f) {
			return errSinkClosed
		}
	}
}

// RequestSnapshots asks the server to re-send entity snapshots. Called
// by the engine after an offline-to-online transition; a no-op while
// disconnected, because connecting itself is what triggers it.
func (c *Client) RequestSnapshots() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	msg, err := json.Marshal(event.Frame{Type: "snapshot-request"})
	if err != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		slog.Warn("snapshot request failed", "error", err)
	}
}

func (c *Client) setConn(wc *websocket.Conn) {
	c.mu.Lock()
	c.conn = wc
	c.mu.Unlock()
}

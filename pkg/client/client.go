// Package client is the resilient transport a device uses to stay in sync
// with the session server: one logical connection that reconnects with
// exponential backoff, queues perishable-safe actions while offline, and
// republishes every inbound message on a typed bus.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
)

const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 30 * time.Second
	DefaultQueueCap    = 20

	writeTimeout = 5 * time.Second
)

// flushable lists the action kinds that survive a reconnect. Everything else
// queued while offline is stale by the time the connection is back: an old
// color no longer reflects intent, and a queued join would double-register
// because reconciliation re-sends join itself.
var flushable = map[string]struct{}{
	protocol.TypeReaction: {},
	protocol.TypeText:     {},
	protocol.TypeQuestion: {},
}

// Conn is one live wire connection. The default implementation wraps a
// WebSocket; tests substitute in-memory pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a new Conn.
type Dialer func(ctx context.Context) (Conn, error)

type Options struct {
	// URL of the server's /ws endpoint. Ignored when Dial is set.
	URL    string
	Logger *slog.Logger
	// Clock defaults to the real clock; tests inject a fake one.
	Clock clockwork.Clock
	Dial  Dialer

	BackoffBase time.Duration
	BackoffCap  time.Duration
	QueueCap    int
}

type queuedAction struct {
	kind    string
	payload []byte
}

type Client struct {
	logger *slog.Logger
	clock  clockwork.Clock
	dial   Dialer
	bus    *Bus

	backoffBase time.Duration
	backoffCap  time.Duration
	queueCap    int

	mu        sync.Mutex
	started   bool
	connected bool
	conn      Conn
	queue     []queuedAction
	cancel    context.CancelFunc
}

func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dial == nil {
		opts.Dial = websocketDialer(opts.URL)
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = DefaultQueueCap
	}
	return &Client{
		logger:      opts.Logger.With(slog.String("component", "session_client")),
		clock:       opts.Clock,
		dial:        opts.Dial,
		bus:         NewBus(),
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		queueCap:    opts.QueueCap,
	}
}

// Bus exposes the typed subscription surface.
func (c *Client) Bus() *Bus {
	return c.bus
}

// Connect starts the connection loop. Idempotent: calling it while already
// connecting or connected is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
}

// Close stops the connection loop and drops the current connection.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.started = false
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// run dials, reads until the connection drops, waits out the backoff delay
// and dials again. The delay doubles on each consecutive failure and snaps
// back to base the instant a dial succeeds.
func (c *Client) run(ctx context.Context) {
	delay := c.backoffBase
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err == nil {
			delay = c.backoffBase

			c.mu.Lock()
			c.conn = conn
			c.connected = true
			c.dropStaleLocked()
			c.mu.Unlock()

			c.flush(ctx, conn)
			c.readLoop(ctx, conn)

			c.mu.Lock()
			c.connected = false
			c.conn = nil
			c.mu.Unlock()
			conn.Close()
		} else {
			c.logger.Debug("dial failed", slog.Any("error", err), slog.Duration("retryIn", delay))
		}

		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return
		}
		if err != nil {
			delay *= 2
			if delay > c.backoffCap {
				delay = c.backoffCap
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.logger.Debug("connection lost", slog.Any("error", err))
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			continue
		}
		c.bus.Publish(env.Type, json.RawMessage(data))
	}
}

// Send delivers the action now if connected, otherwise queues it. The queue
// is bounded; when full the new action is dropped, since these are live,
// perishable actions and the oldest queued ones are no fresher.
func (c *Client) Send(kind string, msg any) {
	payload := protocol.Encode(msg)
	if payload == nil {
		return
	}

	c.mu.Lock()
	if c.connected && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		c.write(conn, payload)
		return
	}
	if len(c.queue) >= c.queueCap {
		c.mu.Unlock()
		c.logger.Warn("outbound queue full, dropping action", slog.String("kind", kind))
		return
	}
	c.queue = append(c.queue, queuedAction{kind: kind, payload: payload})
	c.mu.Unlock()
}

// dropStaleLocked filters the queue right after a reconnect, keeping only
// kinds that are still correct to replay. Caller holds c.mu.
func (c *Client) dropStaleLocked() {
	kept := c.queue[:0]
	for _, a := range c.queue {
		if _, ok := flushable[a.kind]; ok {
			kept = append(kept, a)
		} else {
			c.logger.Debug("dropping stale queued action", slog.String("kind", a.kind))
		}
	}
	c.queue = kept
}

// flush drains the queue earliest-first. If the connection drops mid-flush
// the remainder stays queued for the next connection.
func (c *Client) flush(ctx context.Context, conn Conn) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		a := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if !c.write(conn, a.payload) {
			c.mu.Lock()
			c.queue = append([]queuedAction{a}, c.queue...)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) write(conn Conn, payload []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, payload); err != nil {
		c.logger.Debug("write failed", slog.Any("error", err))
		return false
	}
	return true
}

// --- default WebSocket dialer ---

type wsConn struct {
	c *websocket.Conn
}

func websocketDialer(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{c: c}, nil
	}
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, nil
		}
	}
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

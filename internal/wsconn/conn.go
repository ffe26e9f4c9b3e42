// Package wsconn is a reconnecting WebSocket client with a single write
// goroutine, shared by the host bridge and the stat stream.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/OCAP2/campaign/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

var ErrClosed = errors.New("connection closed")

// Conn is one logical connection that survives socket drops. Writes go
// through a single goroutine; reads run on another and route acks to the
// request waiting for them.
type Conn struct {
	mu      sync.Mutex
	conn    *ws.Conn
	closed  bool
	pending map[uint64]chan streaming.AckMessage
	// replay returns the messages to resend after a reconnect
	replay func() [][]byte

	sendCh    chan []byte
	ackCh     chan streaming.AckMessage
	done      chan struct{}
	onMessage func(streaming.Envelope)

	target *url.URL
	logger *slog.Logger
}

// New creates an unconnected Conn. onMessage receives every inbound
// message that is not an ack, on the read goroutine.
func New(logger *slog.Logger, onMessage func(streaming.Envelope)) *Conn {
	return &Conn{
		pending:   make(map[uint64]chan streaming.AckMessage),
		sendCh:    make(chan []byte, sendChSize),
		ackCh:     make(chan streaming.AckMessage, ackChSize),
		done:      make(chan struct{}),
		onMessage: onMessage,
		logger:    logger,
	}
}

// SetReplay installs the source of messages to resend after a reconnect.
func (c *Conn) SetReplay(f func() [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replay = f
}

// Dial connects once and starts the read and write goroutines. Later drops
// are handled by reconnecting in the background.
func (c *Conn) Dial(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	c.target = u

	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Conn) dial() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(c.target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// attach makes conn current and starts its goroutines.
func (c *Conn) attach(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.writeLoop(conn)
	go c.readLoop(conn)
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// writeLoop owns writes to conn until it fails or the Conn is closed.
func (c *Conn) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := write(conn, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

func (c *Conn) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("WebSocket read error", "error", err)
				go c.reconnect(conn)
			}
			return
		}

		// an ack carries every envelope field, so one decode serves both
		var msg streaming.AckMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("Malformed message received", "raw", string(message))
			continue
		}
		switch {
		case msg.Type == streaming.TypeAck:
			c.routeAck(msg)
		case c.onMessage != nil:
			c.onMessage(streaming.Envelope{Type: msg.Type, ID: msg.ID, Payload: msg.Payload})
		}
	}
}

func (c *Conn) routeAck(ack streaming.AckMessage) {
	if ack.ID == 0 {
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[ack.ID]
	delete(c.pending, ack.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("Ack for unknown request", "id", ack.ID, "for", ack.For)
		return
	}
	ch <- ack
}

// retryDelays yields attempt numbers from 1 to n with a delay doubling from
// first up to limit.
func retryDelays(n int, first, limit time.Duration) iter.Seq2[int, time.Duration] {
	return func(yield func(int, time.Duration) bool) {
		d := first
		for attempt := 1; attempt <= n; attempt++ {
			if !yield(attempt, d) {
				return
			}
			d = min(d*2, limit)
		}
	}
}

// reconnect replaces the dead socket. Both loops of a socket may fail at
// once; only the first to get here for that socket reconnects. On success
// the replay messages are written before anything queued by Send.
func (c *Conn) reconnect(dead *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != dead {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = dead.Close()

	for attempt, delay := range retryDelays(maxReconnect, time.Second, maxBackoff) {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", delay)
		conn, err := c.dial()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}
		if err := c.replayTo(conn); err != nil {
			c.logger.Warn("Failed to replay messages after reconnect", "error", err)
			_ = conn.Close()
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.mu.Unlock()
		c.attach(conn)
		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

func (c *Conn) replayTo(conn *ws.Conn) error {
	c.mu.Lock()
	replay := c.replay
	c.mu.Unlock()
	if replay == nil {
		return nil
	}
	for _, data := range replay() {
		if err := write(conn, data); err != nil {
			return err
		}
	}
	return nil
}

// Send queues data for the write goroutine, dropping it when the queue is
// full.
func (c *Conn) Send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// SendAndWait sends data and waits for an ack of type ackFor. Acks of other
// types that arrive meanwhile are discarded.
func (c *Conn) SendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.Send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("%w while waiting for ack of %q", ErrClosed, ackFor)
		}
	}
}

// Request sends data tagged with id and waits for the ack carrying the
// same id. An ack with an error is returned as an error.
func (c *Conn) Request(ctx context.Context, id uint64, data []byte) (streaming.AckMessage, error) {
	ch := make(chan streaming.AckMessage, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return streaming.AckMessage{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.Send(data)

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return ack, fmt.Errorf("request %d (%s): %s", id, ack.For, ack.Error)
		}
		return ack, nil
	case <-ctx.Done():
		return streaming.AckMessage{}, fmt.Errorf("request %d: %w", id, ctx.Err())
	case <-c.done:
		return streaming.AckMessage{}, ErrClosed
	}
}

// Close says goodbye to the peer and stops both goroutines. It is safe to
// call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}

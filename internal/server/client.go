package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one authenticated WebSocket connection. It implements
// chat.Session so the coordinator and the broadcast hub can address it.
type Client struct {
	id       string
	username string
	addr     string
	conn     *websocket.Conn
	coord    *chat.Coordinator
	limiter  *rate.Limiter
	log      zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps conn for username. frameLimit bounds the inbound frame rate
// independently of the per-user action limits applied by the coordinator.
func NewClient(conn *websocket.Conn, coord *chat.Coordinator, id, username, addr string, frameLimit *rate.Limiter, logger zerolog.Logger) *Client {
	return &Client{
		id:       id,
		username: username,
		addr:     addr,
		conn:     conn,
		coord:    coord,
		limiter:  frameLimit,
		log:      logger.With().Str("session", id).Str("user", username).Logger(),
		send:     make(chan []byte, sendBuffer),
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) Username() string { return c.username }

// Enqueue queues frame for the write pump without blocking. It returns false
// when the queue is full or the client is closed.
func (c *Client) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and drops the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug().Err(err).Msg("set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Debug().Err(err).Msg("set read deadline in pong handler")
		}
		return nil
	})
}

// logReadError classifies the error that ended the read loop.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Str("addr", c.addr).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	default:
		c.log.Warn().Err(err).Str("addr", c.addr).Msg("websocket read error")
	}
}

// readPump decodes frames and hands them to the coordinator until the
// connection fails. It always disconnects the session on exit.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.coord.Disconnect(c)
		c.Close()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("close connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			_ = c.coord.Reject(c, &chat.Error{Code: chat.CodeRateLimited, Message: "too many frames, slow down"})
			continue
		}

		ev, err := protocol.Decode(raw)
		if err != nil {
			_ = c.coord.Reject(c, err)
			continue
		}
		if err := c.coord.Handle(ctx, c, ev); errors.Is(err, context.Canceled) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("close connection in writePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.write(frame, ok) {
				return
			}
		case <-ticker.C:
			if !c.ping() {
				return
			}
		}
	}
}

// write sends one frame, or a close frame once the queue has been closed.
func (c *Client) write(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug().Err(err).Msg("set write deadline")
		return false
	}
	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("write close message")
		}
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.Debug().Err(err).Msg("write message")
		return false
	}
	return true
}

func (c *Client) ping() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug().Err(err).Msg("set write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug().Err(err).Msg("write ping")
		return false
	}
	return true
}

// isExpectedCloseError reports errors that are normal during connection teardown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}

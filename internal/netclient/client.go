// Package netclient is the websocket client for the signaling relay. It
// carries negotiation messages and doubles as the ordered fallback channel.
package netclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hersh/duotris/internal/logging"
	"github.com/hersh/duotris/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	ErrClosed     = errors.New("netclient: closed")
	ErrBufferFull = errors.New("netclient: send buffer full")
)

// Handler receives every relay message, in arrival order.
type Handler func(msg protocol.RelayMessage)

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn   *websocket.Conn
	log    *zap.Logger
	sendCh chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	bad    int
}

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newClient(conn, logger), nil
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		log:    logging.OrNop(logger).Named("relay-client"),
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Run pumps messages until ctx is cancelled or the connection drops.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(handle) })
	g.Go(func() error { return c.writePump(ctx) })
	err := g.Wait()
	c.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Emit queues a relay event. It never blocks.
func (c *Client) Emit(event string, data any) error {
	b, err := protocol.EncodeRelay(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.sendCh <- b:
		return nil
	default:
		c.log.Warn("send buffer full, dropping message", zap.String("event", event))
		return ErrBufferFull
	}
}

// Malformed counts relay messages that failed to parse.
func (c *Client) Malformed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bad
}

// Close shuts down the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.conn.Close()
}

func (c *Client) readPump(handle Handler) error {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return ErrClosed
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
				return err
			}
			return ErrClosed
		}
		msg, err := protocol.DecodeRelay(message)
		if err != nil {
			c.mu.Lock()
			c.bad++
			c.mu.Unlock()
			c.log.Debug("dropping malformed relay message", zap.Error(err))
			continue
		}
		handle(msg)
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}
}

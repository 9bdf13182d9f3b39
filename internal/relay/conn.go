package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hersh/duotris/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 256
)

// conn is one websocket client of the relay.
type conn struct {
	ws      *websocket.Conn
	log     *zap.Logger
	sendCh  chan []byte
	limiter *rate.Limiter

	mu      sync.Mutex
	id      string
	name    string
	room    *Room
	closed  bool
	dropped int
}

func newConn(ws *websocket.Conn, limiter *rate.Limiter, log *zap.Logger) *conn {
	return &conn{
		ws:      ws,
		log:     log,
		sendCh:  make(chan []byte, sendBuffer),
		limiter: limiter,
	}
}

func (c *conn) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *conn) identify(id, name string) {
	c.mu.Lock()
	c.id, c.name = id, name
	c.mu.Unlock()
}

func (c *conn) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *conn) setRoom(r *Room) {
	c.mu.Lock()
	c.room = r
	c.mu.Unlock()
}

// emit encodes and queues an event. Slow clients lose messages rather than
// stall the room.
func (c *conn) emit(event string, data any) {
	b, err := protocol.EncodeRelay(event, data)
	if err != nil {
		c.log.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.sendRaw(b)
}

func (c *conn) sendRaw(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.sendCh <- b:
	default:
		c.log.Warn("send channel full, dropping message", zap.String("player", c.id))
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
}

// writePump sends queued messages and keeps the connection alive.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages until the connection drops, handing each to
// dispatch. Messages over the rate limit are dropped.
func (c *conn) readPump(maxMessage int64, dispatch func(c *conn, msg protocol.RelayMessage)) {
	c.ws.SetReadLimit(maxMessage)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", zap.String("player", c.ID()), zap.Error(err))
			}
			return
		}
		if !c.limiter.Allow() {
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
			continue
		}
		msg, err := protocol.DecodeRelay(message)
		if err != nil {
			c.log.Debug("malformed message", zap.String("player", c.ID()), zap.Error(err))
			continue
		}
		dispatch(c, msg)
	}
}

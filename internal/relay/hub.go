// Package relay is the signaling and fallback relay. It pairs players,
// forwards negotiation traffic and, when the direct link is down, carries
// game traffic and referees the series.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hersh/duotris/internal/config"
	"github.com/hersh/duotris/internal/logging"
	"github.com/hersh/duotris/internal/match"
	"github.com/hersh/duotris/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Hub struct {
	cfg   config.RelayConfig
	log   *zap.Logger
	lobby *Lobby

	mu    sync.Mutex
	rooms map[string]*Room
	conns map[*conn]struct{}
}

func NewHub(cfg config.RelayConfig, logger *zap.Logger) *Hub {
	return &Hub{
		cfg:   cfg,
		log:   logging.OrNop(logger).Named("relay"),
		lobby: NewLobby(cfg.StaleAfter),
		rooms: make(map[string]*Room),
		conns: make(map[*conn]struct{}),
	}
}

// Handler serves /ws and /health.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Run expires stale lobby entries until ctx is done, then closes every
// room and connection.
func (h *Hub) Run(ctx context.Context) error {
	every := h.cfg.StaleAfter
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return nil
		case now := <-ticker.C:
			if n := h.lobby.Expire(now); n > 0 {
				h.log.Debug("expired lobby entries", zap.Int("count", n))
			}
		}
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
	for _, c := range conns {
		c.close()
	}
}

// Rooms is the number of open rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	limit := rate.Limit(h.cfg.Rate)
	if h.cfg.Rate <= 0 {
		limit = rate.Inf
	}
	c := newConn(ws, rate.NewLimiter(limit, h.cfg.Burst), h.log)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	maxMessage := h.cfg.MaxMessage
	if maxMessage <= 0 {
		maxMessage = 64 << 10
	}
	c.readPump(maxMessage, h.dispatch)

	h.disconnect(c)
}

func (h *Hub) disconnect(c *conn) {
	if id := c.ID(); id != "" {
		h.lobby.Remove(id)
		h.log.Info("player disconnected", zap.String("player", id))
	}
	if room := c.Room(); room != nil {
		room.Leave(c, "disconnect")
	}
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) dispatch(c *conn, msg protocol.RelayMessage) {
	switch msg.Event {
	case protocol.EvMatchAnnounce:
		p, err := protocol.DecodeRelayData[protocol.AnnouncePayload](msg)
		if err != nil || p.PlayerID == "" {
			return
		}
		h.announce(c, p)
	case protocol.EvMatchLeave:
		if room := c.Room(); room != nil {
			room.Leave(c, match.ReasonLeft)
		}
		if id := c.ID(); id != "" {
			h.lobby.Remove(id)
		}
	default:
		if room := c.Room(); room != nil {
			room.Handle(c, msg)
		}
	}
}

func (h *Hub) announce(c *conn, p protocol.AnnouncePayload) {
	if c.Room() != nil {
		return
	}
	c.identify(p.PlayerID, p.Name)
	pair, ok := h.lobby.Announce(time.Now(), Waiting{
		ID:     p.PlayerID,
		Name:   p.Name,
		Rating: p.Rating,
		BestOf: p.BestOf,
		conn:   c,
	})
	if !ok {
		return
	}
	bestOf := pair.Host.BestOf
	if pair.Guest.BestOf > bestOf {
		bestOf = pair.Guest.BestOf
	}
	room := newRoom(uuid.NewString(), pair, bestOf, h.cfg.NextGameDelay, h.log, h.removeRoom)
	h.mu.Lock()
	h.rooms[room.ID] = room
	h.mu.Unlock()
	room.Open()
}

func (h *Hub) removeRoom(r *Room) {
	h.mu.Lock()
	delete(h.rooms, r.ID)
	h.mu.Unlock()
}

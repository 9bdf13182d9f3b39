package relay

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hersh/duotris/internal/game"
	"github.com/hersh/duotris/internal/match"
	"github.com/hersh/duotris/internal/protocol"
)

const initialPieces = 7

// Room forwards traffic between two matched players and referees the
// series: it deals both players the same piece sequence, turns a topout
// into a verdict and starts the next game.
type Room struct {
	ID string

	log       *zap.Logger
	nextDelay time.Duration
	onClose   func(r *Room)

	mu      sync.Mutex
	players [2]*conn
	names   [2]string
	series  *match.Series
	game    int
	seed    int64
	bag     *game.Bag
	pieces  []game.PieceType
	served  [2]int
	live    bool
	timer   *time.Timer
	closed  bool
}

func newRoom(id string, pair Pair, bestOf int, nextDelay time.Duration, log *zap.Logger, onClose func(*Room)) *Room {
	r := &Room{
		ID:        id,
		log:       log.With(zap.String("room", id)),
		nextDelay: nextDelay,
		onClose:   onClose,
		players:   [2]*conn{pair.Host.conn, pair.Guest.conn},
		names:     [2]string{pair.Host.Name, pair.Guest.Name},
		series:    match.NewSeries(bestOf, pair.Host.ID, pair.Guest.ID),
	}
	return r
}

func (r *Room) ids() [2]string {
	return [2]string{r.players[0].ID(), r.players[1].ID()}
}

// Open tells both players about the match and starts game one.
func (r *Room) Open() {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.ids()
	for i, c := range r.players {
		c.setRoom(r)
		o := 1 - i
		c.emit(protocol.EvMatchFound, protocol.MatchFoundPayload{
			RoomID:   r.ID,
			Host:     i == 0,
			Opponent: protocol.PlayerInfo{ID: ids[o], Name: r.names[o]},
			BestOf:   r.series.BestOf,
		})
	}
	r.log.Info("match opened", zap.String("host", ids[0]), zap.String("guest", ids[1]), zap.Int("bestOf", r.series.BestOf))
	r.broadcast(protocol.EvSeriesStart, r.seriesPayload())
	r.startGame()
}

// startGame deals a fresh sequence and sends game:start. r.mu must be held.
func (r *Room) startGame() {
	ids := r.ids()
	r.game = r.series.CurrentGame
	r.seed = rand.Int63()
	r.bag = game.NewBag(r.seed)
	r.pieces = r.bag.Take(initialPieces)
	r.served = [2]int{initialPieces, initialPieces}
	r.live = true
	r.broadcast(protocol.EvGameStart, protocol.GameStartPayload{
		RoomID:  r.ID,
		Player1: ids[0],
		Player2: ids[1],
		Next:    game.PieceNames(r.pieces),
		Seed:    r.seed,
		Game:    r.game,
	})
}

func (r *Room) nextGame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.series.Over() {
		return
	}
	r.broadcast(protocol.EvSeriesNextGame, r.seriesPayload())
	r.startGame()
}

func (r *Room) index(c *conn) int {
	if r.players[0] == c {
		return 0
	}
	if r.players[1] == c {
		return 1
	}
	return -1
}

// Handle processes one message from a player in the room.
func (r *Room) Handle(c *conn, msg protocol.RelayMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(c)
	if i < 0 || r.closed {
		return
	}
	other := r.players[1-i]

	switch msg.Event {
	case protocol.EvWebRTCOffer, protocol.EvWebRTCAnswer, protocol.EvWebRTCIce, protocol.EvGameState:
		raw, err := protocol.EncodeRelay(msg.Event, msg.Data)
		if err == nil {
			other.sendRaw(raw)
		}
	case protocol.EvGameNext:
		p, err := protocol.DecodeRelayData[protocol.NextRequest](msg)
		if err != nil || !r.live {
			return
		}
		c.emit(protocol.EvGameNext, protocol.NextPayload{Pieces: game.PieceNames(r.deal(i, p.Count))})
	case protocol.EvGameAttack:
		p, err := protocol.DecodeRelayData[protocol.AttackPayload](msg)
		if err != nil || !r.live || p.Lines <= 0 {
			return
		}
		other.emit(protocol.EvGameApplyGarbage, protocol.ApplyGarbagePayload{Lines: p.Lines})
	case protocol.EvGameTopout:
		p, err := protocol.DecodeRelayData[protocol.RelayTopoutPayload](msg)
		if err != nil || !r.live || (p.Game != 0 && p.Game != r.game) {
			return
		}
		r.resolve(other.ID(), p.Reason)
	default:
		r.log.Debug("ignoring event", zap.String("event", msg.Event))
	}
}

// deal serves player i its next count pieces. Both players draw from the
// same sequence at their own pace.
func (r *Room) deal(i, count int) []game.PieceType {
	if count <= 0 || count > 7*initialPieces {
		count = initialPieces
	}
	for len(r.pieces) < r.served[i]+count {
		r.pieces = append(r.pieces, r.bag.Take(initialPieces)...)
	}
	out := append([]game.PieceType(nil), r.pieces[r.served[i]:r.served[i]+count]...)
	r.served[i] += count
	return out
}

// resolve ends the current game. r.mu must be held.
func (r *Room) resolve(winner, reason string) {
	r.live = false
	decided := r.series.Record(winner)
	r.log.Info("game over", zap.Int("game", r.game), zap.String("winner", winner), zap.String("reason", reason))
	r.broadcast(protocol.EvGameOver, protocol.GameOverPayload{Winner: winner, Reason: reason, Game: r.game})
	r.broadcast(protocol.EvSeriesResult, r.seriesPayload())
	if decided {
		r.broadcast(protocol.EvSeriesEnd, r.seriesPayload())
		r.shutdown()
		return
	}
	r.timer = time.AfterFunc(r.nextDelay, r.nextGame)
}

// Leave handles a player leaving or disconnecting. The other player wins
// the game in progress and the series.
func (r *Room) Leave(c *conn, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(c)
	if i < 0 || r.closed {
		return
	}
	other := r.players[1-i]
	winner := other.ID()
	if r.live {
		r.live = false
		r.series.Score[winner]++
		other.emit(protocol.EvGameOver, protocol.GameOverPayload{Winner: winner, Reason: reason, Game: r.game})
	}
	if !r.series.Over() {
		r.series.Concede(winner)
	}
	other.emit(protocol.EvSeriesEnd, r.seriesPayload())
	r.log.Info("player left", zap.String("player", c.ID()), zap.String("reason", reason))
	r.shutdown()
}

// Close stops the room without a verdict.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown()
}

func (r *Room) shutdown() {
	if r.closed {
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	for _, c := range r.players {
		if c.Room() == r {
			c.setRoom(nil)
		}
	}
	if r.onClose != nil {
		go r.onClose(r)
	}
}

func (r *Room) broadcast(event string, data any) {
	for _, c := range r.players {
		c.emit(event, data)
	}
}

func (r *Room) seriesPayload() protocol.SeriesPayload {
	return protocol.SeriesPayload{
		RoomID:       r.ID,
		Score:        r.series.Snapshot(),
		BestOf:       r.series.BestOf,
		WinsRequired: r.series.WinsRequired,
		CurrentGame:  r.series.CurrentGame,
		Winner:       r.series.Winner,
	}
}

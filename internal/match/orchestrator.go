package match

import (
	"context"
	"math"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/hersh/duotris/internal/game"
	"github.com/hersh/duotris/internal/logging"
)

// Orchestrator phases.
const (
	StateMatchmaking = "matchmaking"
	StateCountdown   = "countdown"
	StatePlaying     = "playing"
	StateGameOver    = "gameover"
	StateSeriesOver  = "seriesover"
	StateExited      = "exited"
)

const (
	evStart  = "start"
	evGo     = "go"
	evEnd    = "end"
	evFinish = "finish"
	evExit   = "exit"
)

// Reasons the orchestrator decides on its own.
const (
	ReasonForfeit = "forfeit"
	ReasonLeft    = "left"
	ReasonDone    = "series over"
)

// Command is an action the session must carry out.
type Command interface{ isCommand() }

// Announce asks the session to publish a matchmaking announcement.
type Announce struct{}

// CountdownTick shows the pre-game countdown.
type CountdownTick struct{ Value int }

// BeginGame starts the local simulation.
type BeginGame struct {
	Game int
	Seed int64
	Next []string
}

// ForfeitLocal ends the local game and tells the opponent we lost.
type ForfeitLocal struct{ Reason string }

// GameResolved reports the winner of one game. It is emitted once per game.
type GameResolved struct {
	Game   int
	Winner string
	Reason string
	Won    bool
	Score  map[string]int
}

// SeriesDecided reports the end of the series.
type SeriesDecided struct {
	Winner string
	Won    bool
	Score  map[string]int
}

// DisconnectCountdown shows the opponent reconnect window. Zero clears it.
type DisconnectCountdown struct{ Remaining int }

// Exit leaves the match.
type Exit struct{ Reason string }

func (Announce) isCommand()            {}
func (CountdownTick) isCommand()       {}
func (BeginGame) isCommand()           {}
func (ForfeitLocal) isCommand()        {}
func (GameResolved) isCommand()        {}
func (SeriesDecided) isCommand()       {}
func (DisconnectCountdown) isCommand() {}
func (Exit) isCommand()                {}

type Options struct {
	Self             string
	BestOf           int
	AnnounceInterval time.Duration
	Countdown        int
	AFKTimeout       time.Duration
	HeartbeatGrace   time.Duration
	ReconnectWindow  time.Duration
	AutoExit         time.Duration
	// Refereed holds the series decision until the relay confirms the
	// deciding game, or until HeartbeatGrace passes without a word.
	Refereed bool
	Logger   *zap.Logger
}

// verdict is how one game was settled. A confirmed verdict came from the
// relay and is final.
type verdict struct {
	winner    string
	confirmed bool
}

// Orchestrator sequences matchmaking, countdown, play and series results.
// Like the engine it has no clock: every method takes the current time and
// returns the commands that follow from it.
type Orchestrator struct {
	opts Options
	log  *zap.Logger
	fsm  *fsm.FSM

	series   *Series
	roomID   string
	opponent string
	host     bool
	game     int
	resolved map[int]verdict
	pending  BeginGame

	countdown int
	announce  game.Deadline
	tick      game.Deadline
	afk       game.Deadline
	heartbeat game.Deadline
	reconnect game.Deadline
	exit      game.Deadline
	confirm   game.Deadline
	shown     int

	out []Command
}

func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		opts:     opts,
		log:      logging.OrNop(opts.Logger).Named("match"),
		resolved: make(map[int]verdict),
	}
	o.fsm = fsm.NewFSM(
		StateMatchmaking,
		fsm.Events{
			{Name: evStart, Src: []string{StateMatchmaking, StateGameOver}, Dst: StateCountdown},
			{Name: evGo, Src: []string{StateCountdown}, Dst: StatePlaying},
			{Name: evEnd, Src: []string{StateCountdown, StatePlaying}, Dst: StateGameOver},
			{Name: evFinish, Src: []string{StateGameOver}, Dst: StateSeriesOver},
			{Name: evExit, Src: []string{StateMatchmaking, StateCountdown, StatePlaying, StateGameOver, StateSeriesOver}, Dst: StateExited},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				o.log.Debug("phase", zap.String("from", e.Src), zap.String("to", e.Dst), zap.Int("game", o.game))
			},
		},
	)
	return o
}

func (o *Orchestrator) State() string    { return o.fsm.Current() }
func (o *Orchestrator) Series() *Series  { return o.series }
func (o *Orchestrator) RoomID() string   { return o.roomID }
func (o *Orchestrator) Opponent() string { return o.opponent }
func (o *Orchestrator) Host() bool       { return o.host }
func (o *Orchestrator) Game() int        { return o.game }
func (o *Orchestrator) Countdown() int   { return o.countdown }

func (o *Orchestrator) emit(c Command) {
	o.out = append(o.out, c)
}

func (o *Orchestrator) flush() []Command {
	out := o.out
	o.out = nil
	return out
}

func (o *Orchestrator) transition(event string) bool {
	if !o.fsm.Can(event) {
		return false
	}
	if err := o.fsm.Event(context.Background(), event); err != nil {
		o.log.Warn("transition failed", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}

// Matchmake starts announcing. The first announcement goes out on the next
// Tick at or after now.
func (o *Orchestrator) Matchmake(now time.Time) []Command {
	if o.State() == StateMatchmaking && o.roomID == "" {
		o.announce.Arm(now)
	}
	return o.Tick(now)
}

// Found pairs us with an opponent.
func (o *Orchestrator) Found(now time.Time, roomID, opponent string, host bool, bestOf int) []Command {
	if o.State() != StateMatchmaking || o.roomID != "" {
		return nil
	}
	if bestOf == 0 {
		bestOf = o.opts.BestOf
	}
	o.roomID = roomID
	o.opponent = opponent
	o.host = host
	o.series = NewSeries(bestOf, o.opts.Self, opponent)
	o.announce.Cancel()
	o.log.Info("match found", zap.String("room", roomID), zap.String("opponent", opponent), zap.Bool("host", host), zap.Int("bestOf", o.series.BestOf))
	return o.flush()
}

// Start begins the countdown for a game. Starts for a game that is already
// running or resolved are ignored.
func (o *Orchestrator) Start(now time.Time, gameNo int, seed int64, next []string) []Command {
	if o.series == nil {
		return nil
	}
	if gameNo == 0 {
		gameNo = o.game + 1
	}
	if gameNo <= o.game {
		return nil
	}
	if !o.transition(evStart) {
		return nil
	}
	o.game = gameNo
	o.pending = BeginGame{Game: gameNo, Seed: seed, Next: append([]string(nil), next...)}
	o.countdown = o.opts.Countdown
	if o.countdown <= 0 {
		o.begin(now)
		return o.flush()
	}
	o.emit(CountdownTick{Value: o.countdown})
	o.tick.Arm(now.Add(time.Second))
	return o.flush()
}

func (o *Orchestrator) begin(now time.Time) {
	o.tick.Cancel()
	o.countdown = 0
	if !o.transition(evGo) {
		return
	}
	o.emit(o.pending)
	o.afk.Arm(now.Add(o.opts.AFKTimeout))
	o.heartbeat.Arm(now.Add(o.opts.HeartbeatGrace))
}

// Tick fires due timers.
func (o *Orchestrator) Tick(now time.Time) []Command {
	if o.announce.Due(now) {
		o.emit(Announce{})
		o.announce.Arm(now.Add(o.opts.AnnounceInterval))
	}
	for o.tick.Due(now) && o.State() == StateCountdown {
		at := o.tick.At()
		o.countdown--
		if o.countdown > 0 {
			o.emit(CountdownTick{Value: o.countdown})
			o.tick.Arm(at.Add(time.Second))
			continue
		}
		o.begin(at)
	}
	if o.State() == StatePlaying {
		if o.afk.Due(now) {
			o.emit(ForfeitLocal{Reason: game.ReasonAFK})
			o.resolve(now, o.opponent, game.ReasonAFK, false)
		}
	}
	if o.State() == StatePlaying {
		if o.heartbeat.Due(now) {
			o.heartbeat.Cancel()
			o.reconnect.Arm(now.Add(o.opts.ReconnectWindow))
			o.shown = -1
			o.log.Warn("opponent silent", zap.Duration("window", o.opts.ReconnectWindow))
		}
		if o.reconnect.Armed() {
			if o.reconnect.Due(now) {
				o.emit(DisconnectCountdown{})
				o.resolve(now, o.opts.Self, game.ReasonDisconnect, false)
			} else if left := int(math.Ceil(o.reconnect.Remaining(now).Seconds())); left != o.shown {
				o.shown = left
				o.emit(DisconnectCountdown{Remaining: left})
			}
		}
	}
	if o.confirm.Due(now) {
		o.confirm.Cancel()
		o.log.Warn("relay never confirmed the deciding game", zap.Int("game", o.game))
		o.settle(now)
	}
	if o.exit.Due(now) {
		o.exit.Cancel()
		if o.transition(evExit) {
			o.emit(Exit{Reason: ReasonDone})
		}
	}
	return o.flush()
}

// Input records local activity for the AFK timer.
func (o *Orchestrator) Input(now time.Time) {
	if o.State() == StatePlaying {
		o.afk.Arm(now.Add(o.opts.AFKTimeout))
	}
}

// Heartbeat records traffic from the opponent.
func (o *Orchestrator) Heartbeat(now time.Time) []Command {
	if o.State() != StatePlaying {
		return nil
	}
	o.heartbeat.Arm(now.Add(o.opts.HeartbeatGrace))
	if o.reconnect.Armed() {
		o.reconnect.Cancel()
		o.emit(DisconnectCountdown{})
	}
	return o.flush()
}

// LocalTopout resolves the current game as a loss.
func (o *Orchestrator) LocalTopout(now time.Time, reason string) []Command {
	o.resolve(now, o.opponent, reason, false)
	return o.flush()
}

// RemoteTopout resolves the current game as a win.
func (o *Orchestrator) RemoteTopout(now time.Time, reason string) []Command {
	o.resolve(now, o.opts.Self, reason, false)
	return o.flush()
}

// RelayGameOver applies the relay's verdict for a game. It is final: a
// different local verdict for the same game is overturned.
func (o *Orchestrator) RelayGameOver(now time.Time, gameNo int, winner, reason string) []Command {
	if gameNo != 0 && gameNo != o.game {
		return nil
	}
	if winner == o.opponent && o.State() == StatePlaying {
		o.emit(ForfeitLocal{Reason: reason})
	}
	o.resolve(now, winner, reason, true)
	return o.flush()
}

// SeriesUpdate replaces the score with the relay's.
func (o *Orchestrator) SeriesUpdate(now time.Time, score map[string]int, currentGame int) []Command {
	if o.series == nil || o.finished() {
		return nil
	}
	o.series.Adopt(score, currentGame)
	o.settle(now)
	return o.flush()
}

// Concede ends the series in winner's favour, as when the other player
// leaves mid-series. A game in progress goes to winner too.
func (o *Orchestrator) Concede(now time.Time, winner, reason string) []Command {
	if o.series == nil || o.finished() || winner == "" {
		return nil
	}
	if o.State() == StatePlaying || o.State() == StateCountdown {
		if winner == o.opponent && o.State() == StatePlaying {
			o.emit(ForfeitLocal{Reason: reason})
		}
		o.resolve(now, winner, reason, true)
	}
	o.series.Concede(winner)
	o.settle(now)
	return o.flush()
}

func (o *Orchestrator) finished() bool {
	return o.State() == StateSeriesOver || o.State() == StateExited
}

// Leave exits from any phase.
func (o *Orchestrator) Leave(now time.Time) []Command {
	if o.transition(evExit) {
		o.disarm()
		o.announce.Cancel()
		o.exit.Cancel()
		o.emit(Exit{Reason: ReasonLeft})
	}
	return o.flush()
}

func (o *Orchestrator) disarm() {
	o.tick.Cancel()
	o.afk.Cancel()
	o.heartbeat.Cancel()
	o.reconnect.Cancel()
}

// resolve settles the current game. The first verdict stands unless a later
// one comes from the relay, which replaces an unconfirmed local verdict.
func (o *Orchestrator) resolve(now time.Time, winner, reason string, fromRelay bool) {
	if o.series == nil || winner == "" || o.finished() {
		return
	}
	if v, done := o.resolved[o.game]; done {
		if !fromRelay || v.confirmed {
			return
		}
		o.resolved[o.game] = verdict{winner: winner, confirmed: true}
		if v.winner != winner {
			o.series.Amend(v.winner, winner)
			o.log.Warn("relay overturned game result", zap.Int("game", o.game), zap.String("local", v.winner), zap.String("relay", winner))
			o.emitResolved(winner, reason)
		}
		o.settle(now)
		return
	}
	if !o.transition(evEnd) {
		return
	}
	o.resolved[o.game] = verdict{winner: winner, confirmed: fromRelay}
	o.disarm()

	decided := o.series.Record(winner)
	o.log.Info("game resolved", zap.Int("game", o.game), zap.String("winner", winner), zap.String("reason", reason))
	o.emitResolved(winner, reason)
	switch {
	case !decided:
	case fromRelay || !o.opts.Refereed:
		o.decide(now)
	default:
		o.confirm.Arm(now.Add(o.opts.HeartbeatGrace))
	}
}

func (o *Orchestrator) emitResolved(winner, reason string) {
	o.emit(GameResolved{
		Game:   o.game,
		Winner: winner,
		Reason: reason,
		Won:    winner == o.opts.Self,
		Score:  o.series.Snapshot(),
	})
}

// settle decides the series if the score says it is over. A pending
// confirmation is dropped either way.
func (o *Orchestrator) settle(now time.Time) {
	o.confirm.Cancel()
	if o.series.Over() {
		o.decide(now)
	}
}

func (o *Orchestrator) decide(now time.Time) {
	if o.State() != StateGameOver {
		if o.State() == StatePlaying || o.State() == StateCountdown {
			o.transition(evEnd)
			o.disarm()
		} else {
			return
		}
	}
	if !o.transition(evFinish) {
		return
	}
	o.emit(SeriesDecided{
		Winner: o.series.Winner,
		Won:    o.series.Winner == o.opts.Self,
		Score:  o.series.Snapshot(),
	})
	o.exit.Arm(now.Add(o.opts.AutoExit))
}

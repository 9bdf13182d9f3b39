// Package session runs one player's client: it owns the engine, the match
// orchestrator and the network paths, and drives all of them from a single
// goroutine. The UI only ever sees copies published on Views.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hersh/duotris/internal/config"
	"github.com/hersh/duotris/internal/game"
	"github.com/hersh/duotris/internal/logging"
	"github.com/hersh/duotris/internal/match"
	"github.com/hersh/duotris/internal/protocol"
	"github.com/hersh/duotris/internal/reliable"
	"github.com/hersh/duotris/internal/transport"
)

const inboxSize = 256

// Link states shown in the view.
const (
	LinkOffline = "offline"
	LinkRelay   = "relay"
	LinkDirect  = "direct"
)

// PhasePractice is the view phase of an offline session.
const PhasePractice = "practice"

var ErrStopped = errors.New("session: stopped")

// PeerFactory creates a fresh peer connection for each game.
type PeerFactory func() (transport.PeerConnection, error)

// PionPeers returns a factory for real WebRTC peers.
func PionPeers(iceServers []string) PeerFactory {
	return func() (transport.PeerConnection, error) {
		return transport.NewPionPeer(iceServers)
	}
}

type Options struct {
	Config   config.Config
	PlayerID string
	// Relay carries signaling and the fallback channel. nil plays offline.
	Relay transport.Signaler
	// NewPeer is optional; without it every game runs over the relay.
	NewPeer PeerFactory
	Logger  *zap.Logger
}

// View is a read-only copy of everything the UI draws.
type View struct {
	Phase         string
	Link          string
	Self          game.Snapshot
	HasSelf       bool
	Opponent      protocol.SnapshotPayload
	HasOpponent   bool
	OpponentName  string
	OpponentInput string
	Countdown     int
	Disconnect    int
	Game          int
	BestOf        int
	Wins          int
	OpponentWins  int
	Message       string
	Exited        bool
}

type Session struct {
	cfg     config.Config
	self    string
	relay   transport.Signaler
	newPeer PeerFactory
	log     *zap.Logger

	inbox chan func(now time.Time)
	views chan View
	done  chan struct{}

	orch *match.Orchestrator
	eng  *game.Engine
	ep   *reliable.Endpoint
	link *link
	snap *transport.SnapshotPolicy

	neg *transport.Negotiator
	gen int
	now time.Time

	opp        protocol.SnapshotPayload
	hasOpp     bool
	oppName    string
	oppInput   string
	countdown  int
	disconnect int
	message    string
	exited     bool

	relayErrors atomic.Int64
}

func New(opts Options) (*Session, error) {
	cfg := opts.Config
	codec, err := protocol.NewCodec(cfg.Net.Codec)
	if err != nil {
		return nil, err
	}
	if opts.PlayerID == "" {
		opts.PlayerID = uuid.NewString()
	}
	log := logging.OrNop(opts.Logger).Named("session").With(zap.String("player", opts.PlayerID))

	s := &Session{
		cfg:     cfg,
		self:    opts.PlayerID,
		relay:   opts.Relay,
		newPeer: opts.NewPeer,
		log:     log,
		inbox:   make(chan func(time.Time), inboxSize),
		views:   make(chan View, 1),
		done:    make(chan struct{}),
		snap:    transport.NewSnapshotPolicy(cfg.Net.SnapshotInterval, cfg.Net.FallbackGap),
	}
	s.link = &link{relay: opts.Relay, log: log}
	s.ep = reliable.NewEndpoint(reliable.Options{
		Codec:          codec,
		ResendInterval: cfg.Net.ResendInterval,
		ResendLimit:    cfg.Net.ResendLimit,
		OnFailure:      s.link.failed,
		Logger:         opts.Logger,
	})
	s.link.ep = s.ep
	s.orch = match.NewOrchestrator(match.Options{
		Self:             s.self,
		BestOf:           cfg.Match.BestOf,
		AnnounceInterval: cfg.Match.AnnounceInterval,
		Countdown:        cfg.Match.Countdown,
		AFKTimeout:       cfg.Match.AFKTimeout,
		HeartbeatGrace:   cfg.Match.HeartbeatGrace,
		ReconnectWindow:  cfg.Match.ReconnectWindow,
		AutoExit:         cfg.Match.AutoExit,
		Refereed:         opts.Relay != nil,
		Logger:           opts.Logger,
	})
	s.routeFrames()
	return s, nil
}

func (s *Session) ID() string { return s.self }

// Views delivers the latest view. Older views are dropped if the reader
// falls behind.
func (s *Session) Views() <-chan View { return s.views }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) practice() bool { return s.relay == nil }

// Run drives the session until ctx is done or the player leaves the match.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.closePeer()

	frame := s.cfg.Net.Frame
	if frame <= 0 {
		frame = 16 * time.Millisecond
	}
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	s.begin(time.Now())
	s.publish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.inbox:
			s.now = time.Now()
			f(s.now)
		case now := <-ticker.C:
			s.now = now
			s.tick(now)
		}
		s.publish()
		if s.exited {
			return nil
		}
	}
}

func (s *Session) post(f func(now time.Time)) error {
	select {
	case s.inbox <- f:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// Press and Release feed player input.
func (s *Session) Press(a game.Action) error {
	return s.post(func(now time.Time) { s.input(now, a, true) })
}

func (s *Session) Release(a game.Action) error {
	return s.post(func(now time.Time) { s.input(now, a, false) })
}

// Tap presses and releases a at the same instant.
func (s *Session) Tap(a game.Action) error {
	return s.post(func(now time.Time) {
		s.input(now, a, true)
		s.input(now, a, false)
	})
}

// Restart starts a new practice game. It does nothing online.
func (s *Session) Restart() error {
	return s.post(func(now time.Time) {
		if s.practice() {
			s.startPractice(now)
		}
	})
}

// Leave exits the match.
func (s *Session) Leave() error {
	return s.post(func(now time.Time) {
		if !s.practice() && s.orch.RoomID() != "" {
			s.link.emit(protocol.EvMatchLeave, protocol.LeavePayload{RoomID: s.orch.RoomID()})
		}
		if s.practice() {
			s.exited = true
			return
		}
		s.commands(now, s.orch.Leave(now))
	})
}

// HandleRelay queues a message from the relay.
func (s *Session) HandleRelay(msg protocol.RelayMessage) {
	_ = s.post(func(now time.Time) { s.relayMessage(now, msg) })
}

func (s *Session) begin(now time.Time) {
	if s.practice() {
		s.startPractice(now)
		return
	}
	s.commands(now, s.orch.Matchmake(now))
}

func (s *Session) startPractice(now time.Time) {
	s.eng = game.NewEngine(s.cfg.Game.EngineConfig(), now.UnixNano(), nil)
	s.message = ""
	s.emissions(now, s.eng.Start(now))
}

// live reports whether the local engine accepts input and time.
func (s *Session) live() bool {
	if s.eng == nil || s.eng.Over() {
		return false
	}
	return s.practice() || s.orch.State() == match.StatePlaying
}

func (s *Session) input(now time.Time, a game.Action, pressed bool) {
	if !s.live() {
		return
	}
	var ev game.Event = game.Release{Action: a}
	if pressed {
		ev = game.Press{Action: a}
		s.orch.Input(now)
	}
	s.emissions(now, s.eng.Step(now, ev))
	s.link.SendInput(now, a.String(), pressed)
}

func (s *Session) tick(now time.Time) {
	if s.live() {
		s.emissions(now, s.eng.Step(now, game.Tick{}))
	}
	if s.practice() {
		return
	}
	s.ep.Poll(now)
	s.commands(now, s.orch.Tick(now))
	if s.live() && s.snap.Due(now, s.link.ready, s.eng.Version()) {
		s.link.SendSnapshot(now, protocol.NewSnapshotPayload(s.eng.Snapshot(false)))
	}
}

func (s *Session) emissions(now time.Time, ems []game.Emission) {
	for _, em := range ems {
		switch em := em.(type) {
		case game.Attack:
			s.link.SendGarbage(now, em.Lines)
		case game.NeedPieces:
			s.link.emit(protocol.EvGameNext, protocol.NextRequest{RoomID: s.orch.RoomID(), Count: em.Count})
		case game.TopOut:
			if s.practice() {
				s.message = "game over: " + em.Reason
				continue
			}
			s.link.SendTopout(now, em.Reason)
			s.commands(now, s.orch.LocalTopout(now, em.Reason))
		case game.Placed:
			if em.Result.Attack > 0 {
				s.log.Debug("placed", zap.Int("lines", em.Result.Lines), zap.Int("attack", em.Result.Attack))
			}
		case game.GarbageApplied:
			s.log.Debug("garbage applied", zap.Int("rows", em.Rows))
		}
	}
}

func (s *Session) commands(now time.Time, cmds []match.Command) {
	for _, c := range cmds {
		switch c := c.(type) {
		case match.Announce:
			s.link.emit(protocol.EvMatchAnnounce, protocol.AnnouncePayload{
				PlayerID: s.self,
				Name:     s.cfg.Match.Name,
				Rating:   s.cfg.Match.Rating,
				BestOf:   s.cfg.Match.BestOf,
			})
			s.message = "looking for an opponent"
		case match.CountdownTick:
			s.countdown = c.Value
			s.message = ""
		case match.BeginGame:
			s.countdown = 0
			s.startGame(now, c)
		case match.ForfeitLocal:
			if s.eng != nil && !s.eng.Over() {
				s.emissions(now, s.eng.Abort(c.Reason))
			}
		case match.GameResolved:
			s.closePeer()
			verb := "lost"
			if c.Won {
				verb = "won"
			}
			s.message = fmt.Sprintf("you %s game %d (%s)", verb, c.Game, c.Reason)
		case match.SeriesDecided:
			if c.Won {
				s.message = "you won the match"
			} else {
				s.message = "you lost the match"
			}
		case match.DisconnectCountdown:
			s.disconnect = c.Remaining
		case match.Exit:
			s.log.Info("leaving match", zap.String("reason", c.Reason))
			s.closePeer()
			s.exited = true
		}
	}
}

func (s *Session) startGame(now time.Time, c match.BeginGame) {
	cfg := s.cfg.Game.EngineConfig()
	cfg.RelayPieces = true
	s.eng = game.NewEngine(cfg, c.Seed, game.ParsePieces(c.Next))
	s.hasOpp = false
	s.snap.Reset()
	s.link.game = c.Game
	s.emissions(now, s.eng.Start(now))
}

func (s *Session) relayMessage(now time.Time, msg protocol.RelayMessage) {
	switch msg.Event {
	case protocol.EvMatchFound:
		p, err := protocol.DecodeRelayData[protocol.MatchFoundPayload](msg)
		if err != nil {
			break
		}
		s.commands(now, s.orch.Found(now, p.RoomID, p.Opponent.ID, p.Host, p.BestOf))
		if s.orch.RoomID() == p.RoomID {
			s.oppName = p.Opponent.Name
			s.link.room = p.RoomID
			s.message = "matched with " + p.Opponent.Name
		}
		return
	case protocol.EvGameStart:
		p, err := protocol.DecodeRelayData[protocol.GameStartPayload](msg)
		if err != nil {
			break
		}
		before := s.orch.Game()
		s.commands(now, s.orch.Start(now, p.Game, p.Seed, p.Next))
		if s.orch.Game() != before {
			s.connect()
		}
		return
	case protocol.EvGameNext:
		p, err := protocol.DecodeRelayData[protocol.NextPayload](msg)
		if err != nil {
			break
		}
		if s.eng != nil && !s.eng.Over() {
			s.emissions(now, s.eng.Step(now, game.Refill{Pieces: game.ParsePieces(p.Pieces)}))
		}
		return
	case protocol.EvGameApplyGarbage:
		p, err := protocol.DecodeRelayData[protocol.ApplyGarbagePayload](msg)
		if err != nil {
			break
		}
		s.garbage(now, p.Lines)
		return
	case protocol.EvGameState:
		p, err := protocol.DecodeRelayData[protocol.StatePayload](msg)
		if err != nil {
			break
		}
		s.opponentState(now, p.SnapshotPayload)
		return
	case protocol.EvGameOver:
		p, err := protocol.DecodeRelayData[protocol.GameOverPayload](msg)
		if err != nil {
			break
		}
		s.commands(now, s.orch.RelayGameOver(now, p.Game, p.Winner, p.Reason))
		return
	case protocol.EvSeriesStart, protocol.EvSeriesResult, protocol.EvSeriesNextGame, protocol.EvSeriesEnd:
		p, err := protocol.DecodeRelayData[protocol.SeriesPayload](msg)
		if err != nil {
			break
		}
		s.commands(now, s.orch.SeriesUpdate(now, p.Score, p.CurrentGame))
		if msg.Event == protocol.EvSeriesEnd && p.Winner != "" {
			s.commands(now, s.orch.Concede(now, p.Winner, match.ReasonLeft))
		}
		return
	case protocol.EvWebRTCOffer:
		p, err := protocol.DecodeRelayData[protocol.OfferPayload](msg)
		if err != nil {
			break
		}
		if s.neg != nil {
			if err := s.neg.HandleOffer(p.Offer); err != nil {
				s.log.Warn("offer rejected", zap.Error(err))
			}
		}
		return
	case protocol.EvWebRTCAnswer:
		p, err := protocol.DecodeRelayData[protocol.AnswerPayload](msg)
		if err != nil {
			break
		}
		if s.neg != nil {
			if err := s.neg.HandleAnswer(p.Answer); err != nil {
				s.log.Warn("answer rejected", zap.Error(err))
			}
		}
		return
	case protocol.EvWebRTCIce:
		p, err := protocol.DecodeRelayData[protocol.IcePayload](msg)
		if err != nil {
			break
		}
		if s.neg != nil {
			if err := s.neg.HandleCandidate(p.Candidate); err != nil {
				s.log.Debug("candidate rejected", zap.Error(err))
			}
		}
		return
	default:
		s.log.Debug("ignoring relay event", zap.String("event", msg.Event))
		return
	}
	s.relayErrors.Add(1)
	s.log.Debug("malformed relay payload", zap.String("event", msg.Event), zap.Int64("parseErrors", s.ParseErrors()))
}

// ParseErrors counts opponent and relay messages dropped because their
// envelope or payload could not be decoded.
func (s *Session) ParseErrors() int64 {
	return s.ep.ParseErrors() + s.relayErrors.Load()
}

func (s *Session) garbage(now time.Time, lines int) {
	s.commands(now, s.orch.Heartbeat(now))
	if s.live() && lines > 0 {
		s.emissions(now, s.eng.Step(now, game.IncomingGarbage{Lines: lines}))
	}
}

func (s *Session) opponentState(now time.Time, p protocol.SnapshotPayload) {
	s.commands(now, s.orch.Heartbeat(now))
	s.opp = p
	s.hasOpp = true
}

func (s *Session) routeFrames() {
	codec := s.ep.Codec()
	s.ep.Handle(protocol.MsgInput, func(f protocol.Frame) error {
		p, err := protocol.DecodePayload[protocol.InputPayload](codec, f)
		if err != nil {
			return err
		}
		if p.Pressed {
			s.oppInput = p.Action
		}
		s.commands(s.now, s.orch.Heartbeat(s.now))
		return nil
	})
	s.ep.Handle(protocol.MsgGarbage, func(f protocol.Frame) error {
		p, err := protocol.DecodePayload[protocol.GarbagePayload](codec, f)
		if err != nil {
			return err
		}
		s.garbage(s.now, p.Lines)
		return nil
	})
	s.ep.Handle(protocol.MsgSnapshot, func(f protocol.Frame) error {
		p, err := protocol.DecodePayload[protocol.SnapshotPayload](codec, f)
		if err != nil {
			return err
		}
		s.opponentState(s.now, p)
		return nil
	})
	s.ep.Handle(protocol.MsgTopout, func(f protocol.Frame) error {
		p, err := protocol.DecodePayload[protocol.TopoutPayload](codec, f)
		if err != nil {
			return err
		}
		s.commands(s.now, s.orch.RemoteTopout(s.now, p.Reason))
		return nil
	})
}

// connect starts a fresh peer negotiation for the current game. Callbacks
// from an older negotiation are ignored.
func (s *Session) connect() {
	s.closePeer()
	if s.newPeer == nil || s.relay == nil {
		return
	}
	pc, err := s.newPeer()
	if err != nil {
		s.log.Warn("no peer connection, staying on relay", zap.Error(err))
		return
	}
	s.gen++
	gen := s.gen
	s.neg = transport.NewNegotiator(pc, s.relay, transport.NegotiatorOptions{
		RoomID:  s.orch.RoomID(),
		Host:    s.orch.Host(),
		Timeout: s.cfg.Net.ConnectTimeout,
		Logger:  s.log,
		OnReady: func(dc transport.DataChannel) {
			go s.post(func(time.Time) {
				if gen != s.gen {
					return
				}
				s.ep.Attach(dc)
				s.link.ready = true
				s.snap.Reset()
			})
		},
		OnMessage: func(data []byte) {
			s.post(func(now time.Time) {
				if gen == s.gen {
					s.receive(now, data)
				}
			})
		},
		OnDown: func(err error) {
			go s.post(func(time.Time) {
				if gen != s.gen {
					return
				}
				s.log.Warn("falling back to relay", zap.Error(err))
				s.dropLink()
			})
		},
	})
	if err := s.neg.Start(); err != nil {
		s.log.Warn("negotiation failed to start", zap.Error(err))
	}
}

// receive hands a peer message to the endpoint. Frame handlers run inside
// Receive and read the time from s.now.
func (s *Session) receive(now time.Time, data []byte) {
	s.now = now
	if err := s.ep.Receive(now, data); err != nil {
		s.log.Debug("dropping peer message", zap.Error(err), zap.Int64("parseErrors", s.ep.ParseErrors()))
	}
}

func (s *Session) dropLink() {
	s.ep.Attach(nil)
	s.link.ready = false
	s.snap.Reset()
}

// closePeer tears down the current negotiation, if any.
func (s *Session) closePeer() {
	s.gen++
	if s.neg != nil {
		s.neg.Close()
		s.neg = nil
	}
	s.dropLink()
}

func (s *Session) linkState() string {
	switch {
	case s.practice():
		return LinkOffline
	case s.link.ready:
		return LinkDirect
	default:
		return LinkRelay
	}
}

func (s *Session) view() View {
	v := View{
		Phase:         s.orch.State(),
		Link:          s.linkState(),
		OpponentName:  s.oppName,
		OpponentInput: s.oppInput,
		Countdown:     s.countdown,
		Disconnect:    s.disconnect,
		Game:          s.orch.Game(),
		Message:       s.message,
		Exited:        s.exited,
	}
	if s.practice() {
		v.Phase = PhasePractice
	}
	if s.eng != nil {
		v.Self = s.eng.Snapshot(true)
		v.HasSelf = true
	}
	if s.hasOpp {
		v.Opponent = s.opp.Clone()
		v.HasOpponent = true
	}
	if series := s.orch.Series(); series != nil {
		score := series.Snapshot()
		v.BestOf = series.BestOf
		v.Wins = score[s.self]
		v.OpponentWins = score[s.orch.Opponent()]
	}
	return v
}

// publish replaces any unread view with the current one.
func (s *Session) publish() {
	v := s.view()
	select {
	case <-s.views:
	default:
	}
	select {
	case s.views <- v:
	default:
	}
}

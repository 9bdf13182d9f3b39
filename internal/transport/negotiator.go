package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/hersh/duotris/internal/logging"
	"github.com/hersh/duotris/internal/protocol"
)

// Negotiator states.
const (
	StateIdle       = "idle"
	StateOffering   = "offering"
	StateAnswering  = "answering"
	StateConnecting = "connecting"
	StateReady      = "ready"
	StateClosed     = "closed"
)

const (
	evOffer   = "offer"
	evAwait   = "await"
	evConnect = "connect"
	evOpen    = "open"
	evClose   = "close"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	channelLabel          = "game"
)

var (
	ErrConnectTimeout = errors.New("transport: connect timeout")
	ErrChannelClosed  = errors.New("transport: data channel closed")
	ErrPeerFailed     = errors.New("transport: peer connection failed")
	ErrWrongState     = errors.New("transport: unexpected signal for state")
)

type NegotiatorOptions struct {
	RoomID  string
	Host    bool
	Timeout time.Duration
	Logger  *zap.Logger

	// OnReady is called once when the data channel opens.
	OnReady func(dc DataChannel)
	// OnMessage receives every data channel message.
	OnMessage func(data []byte)
	// OnDown is called once if the link fails or never comes up. It is not
	// called for an explicit Close.
	OnDown func(err error)
}

// Negotiator runs the offer/answer exchange for one game. The host creates
// the data channel and the offer; the guest waits for it. Candidates that
// arrive before the remote description are held until it is set.
type Negotiator struct {
	opts NegotiatorOptions
	pc   PeerConnection
	sig  Signaler
	log  *zap.Logger
	fsm  *fsm.FSM

	mu        sync.Mutex
	dc        DataChannel
	remoteSet bool
	early     []protocol.ICECandidate
	timer     *time.Timer
	filtered  int
	downOnce  sync.Once
}

func NewNegotiator(pc PeerConnection, sig Signaler, opts NegotiatorOptions) *Negotiator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConnectTimeout
	}
	n := &Negotiator{
		opts: opts,
		pc:   pc,
		sig:  sig,
		log:  logging.OrNop(opts.Logger).Named("negotiator").With(zap.String("room", opts.RoomID), zap.Bool("host", opts.Host)),
	}
	n.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evOffer, Src: []string{StateIdle}, Dst: StateOffering},
			{Name: evAwait, Src: []string{StateIdle}, Dst: StateAnswering},
			{Name: evConnect, Src: []string{StateOffering, StateAnswering}, Dst: StateConnecting},
			{Name: evOpen, Src: []string{StateConnecting}, Dst: StateReady},
			{Name: evClose, Src: []string{StateIdle, StateOffering, StateAnswering, StateConnecting, StateReady}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				n.log.Debug("negotiation", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)

	pc.OnICECandidate(n.localCandidate)
	pc.OnDataChannel(func(dc DataChannel) {
		if opts.Host {
			return
		}
		n.bind(dc)
	})
	pc.OnStateChange(func(s PeerState) {
		switch s {
		case PeerFailed, PeerDisconnected, PeerClosed:
			n.fail(fmt.Errorf("%w: %s", ErrPeerFailed, s))
		}
	})
	return n
}

func (n *Negotiator) State() string { return n.fsm.Current() }

// Filtered counts remote candidates dropped by AcceptCandidate.
func (n *Negotiator) Filtered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.filtered
}

func (n *Negotiator) event(name string) error {
	if !n.fsm.Can(name) {
		return fmt.Errorf("%w: %s in %s", ErrWrongState, name, n.fsm.Current())
	}
	return n.fsm.Event(context.Background(), name)
}

// Start begins negotiation and arms the connect timeout.
func (n *Negotiator) Start() error {
	n.mu.Lock()
	n.timer = time.AfterFunc(n.opts.Timeout, func() { n.fail(ErrConnectTimeout) })
	n.mu.Unlock()

	if !n.opts.Host {
		return n.event(evAwait)
	}

	dc, err := n.pc.CreateDataChannel(channelLabel)
	if err != nil {
		n.fail(err)
		return err
	}
	n.bind(dc)
	offer, err := n.pc.CreateOffer()
	if err == nil {
		err = n.pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = n.event(evOffer)
	}
	if err == nil {
		err = n.sig.Emit(protocol.EvWebRTCOffer, protocol.OfferPayload{RoomID: n.opts.RoomID, Offer: offer})
	}
	if err != nil {
		n.fail(err)
		return err
	}
	return nil
}

// HandleOffer answers the host's offer.
func (n *Negotiator) HandleOffer(sd protocol.SessionDescription) error {
	if n.State() != StateAnswering {
		return fmt.Errorf("%w: offer in %s", ErrWrongState, n.State())
	}
	if err := n.setRemote(sd); err != nil {
		n.fail(err)
		return err
	}
	answer, err := n.pc.CreateAnswer()
	if err == nil {
		err = n.pc.SetLocalDescription(answer)
	}
	if err == nil {
		err = n.event(evConnect)
	}
	if err == nil {
		err = n.sig.Emit(protocol.EvWebRTCAnswer, protocol.AnswerPayload{RoomID: n.opts.RoomID, Answer: answer})
	}
	if err != nil {
		n.fail(err)
		return err
	}
	return nil
}

// HandleAnswer completes the host side of the exchange.
func (n *Negotiator) HandleAnswer(sd protocol.SessionDescription) error {
	if n.State() != StateOffering {
		return fmt.Errorf("%w: answer in %s", ErrWrongState, n.State())
	}
	if err := n.setRemote(sd); err != nil {
		n.fail(err)
		return err
	}
	return n.event(evConnect)
}

// HandleCandidate adds a remote candidate, holding it if the remote
// description is not set yet.
func (n *Negotiator) HandleCandidate(c protocol.ICECandidate) error {
	n.mu.Lock()
	if !AcceptCandidate(c.Candidate) {
		n.filtered++
		n.mu.Unlock()
		return nil
	}
	if !n.remoteSet {
		n.early = append(n.early, c)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	return n.pc.AddICECandidate(c)
}

func (n *Negotiator) setRemote(sd protocol.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	n.mu.Lock()
	n.remoteSet = true
	early := n.early
	n.early = nil
	n.mu.Unlock()
	for _, c := range early {
		if err := n.pc.AddICECandidate(c); err != nil {
			n.log.Debug("dropping early candidate", zap.Error(err))
		}
	}
	return nil
}

func (n *Negotiator) localCandidate(c *protocol.ICECandidate) {
	if c == nil || !AcceptCandidate(c.Candidate) {
		return
	}
	if err := n.sig.Emit(protocol.EvWebRTCIce, protocol.IcePayload{RoomID: n.opts.RoomID, Candidate: *c}); err != nil {
		n.log.Debug("candidate not sent", zap.Error(err))
	}
}

func (n *Negotiator) bind(dc DataChannel) {
	n.mu.Lock()
	n.dc = dc
	n.mu.Unlock()
	dc.OnOpen(func() { n.opened(dc) })
	dc.OnClose(func() { n.fail(ErrChannelClosed) })
	dc.OnMessage(func(data []byte) {
		if n.opts.OnMessage != nil {
			n.opts.OnMessage(data)
		}
	})
}

func (n *Negotiator) opened(dc DataChannel) {
	if err := n.event(evOpen); err != nil {
		n.log.Debug("open ignored", zap.Error(err))
		return
	}
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.mu.Unlock()
	n.log.Info("peer link ready")
	if n.opts.OnReady != nil {
		n.opts.OnReady(dc)
	}
}

// fail tears the link down and reports err once.
func (n *Negotiator) fail(err error) {
	if n.State() == StateClosed {
		return
	}
	n.teardown()
	n.log.Warn("peer link down", zap.Error(err))
	n.downOnce.Do(func() {
		if n.opts.OnDown != nil {
			n.opts.OnDown(err)
		}
	})
}

// Close tears the link down without reporting it as a failure.
func (n *Negotiator) Close() {
	n.downOnce.Do(func() {})
	n.teardown()
}

func (n *Negotiator) teardown() {
	if err := n.event(evClose); err != nil {
		return
	}
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
	}
	dc := n.dc
	n.dc = nil
	n.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	_ = n.pc.Close()
}

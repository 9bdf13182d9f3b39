package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/hersh/duotris/internal/protocol"
)

// PionPeer adapts a pion peer connection.
type PionPeer struct {
	pc *webrtc.PeerConnection
}

// NewPionPeer creates a peer connection using the given STUN/TURN URLs.
func NewPionPeer(iceServers []string) (*PionPeer, error) {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: new peer connection: %w", err)
	}
	return &PionPeer{pc: pc}, nil
}

func (p *PionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := false
	var retransmits uint16
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: create data channel: %w", err)
	}
	return pionChannel{dc}, nil
}

func (p *PionPeer) CreateOffer() (protocol.SessionDescription, error) {
	sd, err := p.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return fromPion(sd), nil
}

func (p *PionPeer) CreateAnswer() (protocol.SessionDescription, error) {
	sd, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return fromPion(sd), nil
}

func (p *PionPeer) SetLocalDescription(sd protocol.SessionDescription) error {
	return p.pc.SetLocalDescription(toPion(sd))
}

func (p *PionPeer) SetRemoteDescription(sd protocol.SessionDescription) error {
	return p.pc.SetRemoteDescription(toPion(sd))
}

func (p *PionPeer) AddICECandidate(c protocol.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (p *PionPeer) OnICECandidate(f func(c *protocol.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(nil)
			return
		}
		ci := c.ToJSON()
		f(&protocol.ICECandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})
}

func (p *PionPeer) OnDataChannel(f func(dc DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(pionChannel{dc})
	})
}

func (p *PionPeer) OnStateChange(f func(s PeerState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			f(PeerConnecting)
		case webrtc.PeerConnectionStateConnected:
			f(PeerConnected)
		case webrtc.PeerConnectionStateDisconnected:
			f(PeerDisconnected)
		case webrtc.PeerConnectionStateFailed:
			f(PeerFailed)
		case webrtc.PeerConnectionStateClosed:
			f(PeerClosed)
		}
	})
}

func (p *PionPeer) Close() error {
	return p.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c pionChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c pionChannel) Close() error           { return c.dc.Close() }
func (c pionChannel) OnOpen(f func())        { c.dc.OnOpen(f) }
func (c pionChannel) OnClose(f func())       { c.dc.OnClose(f) }

func (c pionChannel) OnMessage(f func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

func fromPion(sd webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toPion(sd protocol.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(sd.Type), SDP: sd.SDP}
}

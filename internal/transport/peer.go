// Package transport negotiates the direct peer link and decides how often
// to publish snapshots over it.
package transport

import "github.com/hersh/duotris/internal/protocol"

// PeerState is the connection state of a peer link.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "new"
	}
}

// DataChannel is a message channel to the peer.
type DataChannel interface {
	Send(data []byte) error
	Close() error
	OnOpen(func())
	OnClose(func())
	OnMessage(func(data []byte))
}

// PeerConnection is the subset of a WebRTC peer connection the negotiator
// drives.
type PeerConnection interface {
	// CreateDataChannel opens an unordered channel without retransmits.
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer() (protocol.SessionDescription, error)
	CreateAnswer() (protocol.SessionDescription, error)
	SetLocalDescription(sd protocol.SessionDescription) error
	SetRemoteDescription(sd protocol.SessionDescription) error
	AddICECandidate(c protocol.ICECandidate) error
	// OnICECandidate is called with nil once gathering completes.
	OnICECandidate(func(c *protocol.ICECandidate))
	OnDataChannel(func(dc DataChannel))
	OnStateChange(func(s PeerState))
	Close() error
}

// Signaler carries negotiation messages through the relay.
type Signaler interface {
	Emit(event string, data any) error
}

package protocol

import (
	"errors"

	"github.com/hersh/duotris/internal/game"
)

// MessageType identifies a peer message on the data channel.
type MessageType string

const (
	MsgInput    MessageType = "input"
	MsgGarbage  MessageType = "garbage"
	MsgSnapshot MessageType = "snapshot"
	MsgTopout   MessageType = "topout"
	MsgAck      MessageType = "ack"
)

// ErrUnknownType is returned when a message carries a type outside the
// closed set above.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Known reports whether t is one of the peer message types.
func (t MessageType) Known() bool {
	switch t {
	case MsgInput, MsgGarbage, MsgSnapshot, MsgTopout, MsgAck:
		return true
	}
	return false
}

// Frame is a decoded peer message. Raw still holds the encoded payload;
// decode it with the codec that produced the frame.
type Frame struct {
	Type   MessageType
	Seq    uint32
	HasSeq bool
	Raw    []byte
}

// InputPayload is a presentation hint about what the opponent pressed. It
// never drives the receiver's simulation.
type InputPayload struct {
	Action  string `json:"action" msgpack:"action"`
	Pressed bool   `json:"pressed" msgpack:"pressed"`
}

// GarbagePayload carries lines the sender wants pushed onto the receiver.
type GarbagePayload struct {
	Lines int `json:"lines" msgpack:"lines"`
}

// SnapshotPayload is a display copy of a player's field.
type SnapshotPayload struct {
	Matrix [][]game.Cell `json:"matrix" msgpack:"matrix"`
	Hold   string        `json:"hold" msgpack:"hold"`
	Next   []string      `json:"next" msgpack:"next"`
	Score  int           `json:"score" msgpack:"score"`
	Lines  int           `json:"lines" msgpack:"lines"`
}

// TopoutPayload announces the sender lost.
type TopoutPayload struct {
	Reason string `json:"reason" msgpack:"reason"`
}

// NewSnapshotPayload copies the visible part of a local snapshot.
func NewSnapshotPayload(s game.Snapshot) SnapshotPayload {
	vis := s.Stage.Visible()
	m := make([][]game.Cell, len(vis))
	for i, row := range vis {
		m[i] = make([]game.Cell, len(row))
		copy(m[i], row)
	}
	return SnapshotPayload{
		Matrix: m,
		Hold:   s.Hold.String(),
		Next:   game.PieceNames(s.Next),
		Score:  s.Score,
		Lines:  s.Lines,
	}
}

// Clone deep-copies the payload so a reader cannot see later writes.
func (p SnapshotPayload) Clone() SnapshotPayload {
	out := p
	out.Matrix = make([][]game.Cell, len(p.Matrix))
	for i, row := range p.Matrix {
		out.Matrix[i] = make([]game.Cell, len(row))
		copy(out.Matrix[i], row)
	}
	out.Next = append([]string(nil), p.Next...)
	return out
}

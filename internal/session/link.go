package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/hersh/duotris/internal/protocol"
	"github.com/hersh/duotris/internal/reliable"
	"github.com/hersh/duotris/internal/transport"
)

// link picks the path for each outgoing message: the direct peer channel
// when it is up, otherwise the relay.
type link struct {
	ep    *reliable.Endpoint
	relay transport.Signaler
	log   *zap.Logger

	ready bool
	room  string
	game  int
}

func (l *link) emit(event string, data any) {
	if l.relay == nil {
		return
	}
	if err := l.relay.Emit(event, data); err != nil {
		l.log.Warn("relay emit failed", zap.String("event", event), zap.Error(err))
	}
}

// SendGarbage sends an attack. Over the peer it is reliable; if delivery
// fails it is re-sent through the relay.
func (l *link) SendGarbage(now time.Time, lines int) {
	if lines <= 0 {
		return
	}
	if l.ready {
		if err := l.ep.Send(now, protocol.MsgGarbage, protocol.GarbagePayload{Lines: lines}, true); err == nil {
			return
		}
	}
	l.emit(protocol.EvGameAttack, protocol.AttackPayload{RoomID: l.room, Lines: lines})
}

// SendTopout tells both the peer and the relay that we lost.
func (l *link) SendTopout(now time.Time, reason string) {
	if l.ready {
		if err := l.ep.Send(now, protocol.MsgTopout, protocol.TopoutPayload{Reason: reason}, true); err != nil {
			l.log.Debug("peer topout not sent", zap.Error(err))
		}
	}
	l.emit(protocol.EvGameTopout, protocol.RelayTopoutPayload{RoomID: l.room, Reason: reason, Game: l.game})
}

func (l *link) SendSnapshot(now time.Time, p protocol.SnapshotPayload) {
	if l.ready {
		if err := l.ep.Send(now, protocol.MsgSnapshot, p, false); err == nil {
			return
		}
	}
	l.emit(protocol.EvGameState, protocol.StatePayload{RoomID: l.room, SnapshotPayload: p})
}

// SendInput is a display hint and only goes over the peer channel.
func (l *link) SendInput(now time.Time, action string, pressed bool) {
	if !l.ready {
		return
	}
	_ = l.ep.Send(now, protocol.MsgInput, protocol.InputPayload{Action: action, Pressed: pressed}, false)
}

// failed re-routes reliable messages the peer never acknowledged.
func (l *link) failed(t protocol.MessageType, payload any, err error) {
	l.log.Warn("peer delivery failed, using relay", zap.String("type", string(t)), zap.Error(err))
	switch p := payload.(type) {
	case protocol.GarbagePayload:
		l.emit(protocol.EvGameAttack, protocol.AttackPayload{RoomID: l.room, Lines: p.Lines})
	case protocol.TopoutPayload:
		l.emit(protocol.EvGameTopout, protocol.RelayTopoutPayload{RoomID: l.room, Reason: p.Reason, Game: l.game})
	}
}

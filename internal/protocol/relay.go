package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Relay events. The relay only ever sees JSON.
const (
	EvWebRTCOffer  = "webrtc:offer"
	EvWebRTCAnswer = "webrtc:answer"
	EvWebRTCIce    = "webrtc:ice"

	EvGameStart        = "game:start"
	EvGameNext         = "game:next"
	EvGameAttack       = "game:attack"
	EvGameApplyGarbage = "game:applyGarbage"
	EvGameState        = "game:state"
	EvGameTopout       = "game:topout"
	EvGameOver         = "game:over"

	EvSeriesStart    = "bo3:match-start"
	EvSeriesResult   = "bo3:game-result"
	EvSeriesNextGame = "bo3:next-game-start"
	EvSeriesEnd      = "bo3:match-end"

	EvMatchAnnounce = "match:announce"
	EvMatchFound    = "match:found"
	EvMatchLeave    = "match:leave"
)

// RelayMessage is the relay wire envelope.
type RelayMessage struct {
	Event string              `json:"event"`
	Data  jsoniter.RawMessage `json:"data,omitempty"`
}

// EncodeRelay builds a relay message for event.
func EncodeRelay(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("protocol: empty relay event")
	}
	msg := RelayMessage{Event: event}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = b
	}
	return json.Marshal(msg)
}

func DecodeRelay(b []byte) (RelayMessage, error) {
	if len(b) == 0 {
		return RelayMessage{}, fmt.Errorf("protocol: empty relay message")
	}
	var m RelayMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return RelayMessage{}, fmt.Errorf("protocol: decode relay: %w", err)
	}
	if m.Event == "" {
		return RelayMessage{}, fmt.Errorf("protocol: relay message without event")
	}
	return m, nil
}

// DecodeRelayData decodes the data of a relay message into T.
func DecodeRelayData[T any](m RelayMessage) (T, error) {
	var out T
	if len(m.Data) == 0 {
		return out, fmt.Errorf("empty data for event %q", m.Event)
	}
	err := json.Unmarshal(m.Data, &out)
	return out, err
}

// SessionDescription mirrors an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors a trickled ICE candidate.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type OfferPayload struct {
	RoomID string             `json:"roomId"`
	Offer  SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	RoomID string             `json:"roomId"`
	Answer SessionDescription `json:"answer"`
}

type IcePayload struct {
	RoomID    string       `json:"roomId"`
	Candidate ICECandidate `json:"candidate"`
}

// GameStartPayload starts one game of a series. Seed feeds the local bag if
// the relay stops serving pieces.
type GameStartPayload struct {
	RoomID  string   `json:"roomId"`
	Player1 string   `json:"player1"`
	Player2 string   `json:"player2"`
	Next    []string `json:"next"`
	Seed    int64    `json:"seed"`
	Game    int      `json:"game"`
}

type NextRequest struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

type NextPayload struct {
	Pieces []string `json:"pieces"`
}

type AttackPayload struct {
	RoomID string `json:"roomId"`
	Lines  int    `json:"lines"`
}

type ApplyGarbagePayload struct {
	Lines int `json:"lines"`
}

type StatePayload struct {
	RoomID string `json:"roomId"`
	SnapshotPayload
}

type RelayTopoutPayload struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
	Game   int    `json:"game"`
}

type GameOverPayload struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
	Game   int    `json:"game"`
}

// SeriesPayload is shared by every bo3:* event.
type SeriesPayload struct {
	RoomID       string         `json:"roomId"`
	Score        map[string]int `json:"score"`
	BestOf       int            `json:"bestOf"`
	WinsRequired int            `json:"winsRequired"`
	CurrentGame  int            `json:"currentGame"`
	Winner       string         `json:"winner,omitempty"`
}

type AnnouncePayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Rating   int    `json:"rating"`
	BestOf   int    `json:"bestOf"`
}

type PlayerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type MatchFoundPayload struct {
	RoomID   string     `json:"roomId"`
	Host     bool       `json:"host"`
	Opponent PlayerInfo `json:"opponent"`
	BestOf   int        `json:"bestOf"`
}

type LeavePayload struct {
	RoomID string `json:"roomId"`
}

package game

import "github.com/hersh/duotris/internal/attack"

// Action is a player control.
type Action int

const (
	ActionNone Action = iota
	ActionLeft
	ActionRight
	ActionSoftDrop
	ActionHardDrop
	ActionRotateCW
	ActionRotateCCW
	ActionRotate180
	ActionHold
)

var actionNames = map[Action]string{
	ActionLeft:      "left",
	ActionRight:     "right",
	ActionSoftDrop:  "soft",
	ActionHardDrop:  "hard",
	ActionRotateCW:  "cw",
	ActionRotateCCW: "ccw",
	ActionRotate180: "180",
	ActionHold:      "hold",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "none"
}

func ParseAction(s string) (Action, bool) {
	for a, name := range actionNames {
		if name == s {
			return a, true
		}
	}
	return ActionNone, false
}

// Event is an input to Engine.Step.
type Event interface{ isEvent() }

// Tick only advances time.
type Tick struct{}

type Press struct{ Action Action }

type Release struct{ Action Action }

// IncomingGarbage is garbage sent by the opponent.
type IncomingGarbage struct{ Lines int }

// Refill appends pieces served by the relay to the queue.
type Refill struct{ Pieces []PieceType }

func (Tick) isEvent()            {}
func (Press) isEvent()           {}
func (Release) isEvent()         {}
func (IncomingGarbage) isEvent() {}
func (Refill) isEvent()          {}

// Emission is an output of Engine.Step.
type Emission interface{ isEmission() }

// Attack is garbage left over after cancelling, to be sent to the opponent.
type Attack struct{ Lines int }

// Placed reports a lock.
type Placed struct{ Result PlacementResult }

// GarbageApplied reports rows pushed into the local stage.
type GarbageApplied struct{ Rows int }

// NeedPieces asks for more pieces from the relay.
type NeedPieces struct{ Count int }

// TopOut ends the local game.
type TopOut struct{ Reason string }

func (Attack) isEmission()         {}
func (Placed) isEmission()         {}
func (GarbageApplied) isEmission() {}
func (NeedPieces) isEmission()     {}
func (TopOut) isEmission()         {}

// Topout reasons.
const (
	ReasonBlockOut   = "blockout"
	ReasonLockOut    = "lockout"
	ReasonOverflow   = "overflow"
	ReasonAFK        = "afk"
	ReasonDisconnect = "disconnect"
)

// PlacementResult describes one lock.
type PlacementResult struct {
	Piece        PieceType
	Lines        int
	Spin         attack.Spin
	PerfectClear bool
	Combo        int
	B2B          int
	Attack       int
	Stage        Stage
}

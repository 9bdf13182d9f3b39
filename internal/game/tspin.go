package game

import "github.com/hersh/duotris/internal/attack"

// front corners of the T bounding box per rotation state, as (dx, dy).
var tFrontCorners = [4][2][2]int{
	{{0, 0}, {2, 0}}, // flat side down, nose up
	{{2, 0}, {2, 2}},
	{{0, 2}, {2, 2}},
	{{0, 0}, {0, 2}},
}

var tAllCorners = [4][2]int{{0, 0}, {2, 0}, {0, 2}, {2, 2}}

// ClassifyTSpin applies the three-corner rule to a T piece about to lock.
// The caller must only ask when the last successful action was a rotation.
// A spin is full when both front corners are filled or the rotation needed
// the final kick; otherwise it is a mini.
func ClassifyTSpin(p Player, s Stage, lastKick bool) attack.Spin {
	if p.Type != PieceT {
		return attack.SpinNone
	}
	filled := 0
	for _, c := range tAllCorners {
		if s.Occupied(p.X+c[0], p.Y+c[1]) {
			filled++
		}
	}
	if filled < 3 {
		return attack.SpinNone
	}
	front := 0
	for _, c := range tFrontCorners[p.Rotation%4] {
		if s.Occupied(p.X+c[0], p.Y+c[1]) {
			front++
		}
	}
	if front == 2 || lastKick {
		return attack.SpinFull
	}
	return attack.SpinMini
}

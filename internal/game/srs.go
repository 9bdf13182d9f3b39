package game

// Direction is a rotation request.
type Direction int

const (
	RotateCW Direction = iota
	RotateCCW
	Rotate180
)

// Kick offsets are written y-up as in the SRS tables and flipped on use.
type kick struct{ x, y int }

type transition struct{ from, to int }

var jlstzKicks = map[transition][]kick{
	{0, 1}: {{-1, 0}, {-1, 1}, {0, -2}, {-1, -2}},
	{1, 0}: {{1, 0}, {1, -1}, {0, 2}, {1, 2}},
	{1, 2}: {{1, 0}, {1, -1}, {0, 2}, {1, 2}},
	{2, 1}: {{-1, 0}, {-1, 1}, {0, -2}, {-1, -2}},
	{2, 3}: {{1, 0}, {1, 1}, {0, -2}, {1, -2}},
	{3, 2}: {{-1, 0}, {-1, -1}, {0, 2}, {-1, 2}},
	{3, 0}: {{-1, 0}, {-1, -1}, {0, 2}, {-1, 2}},
	{0, 3}: {{1, 0}, {1, 1}, {0, -2}, {1, -2}},

	{0, 2}: {{0, 1}, {1, 1}, {-1, 1}, {1, 0}, {-1, 0}},
	{2, 0}: {{0, -1}, {-1, -1}, {1, -1}, {-1, 0}, {1, 0}},
	{1, 3}: {{1, 0}, {1, 2}, {1, 1}, {0, 2}, {0, 1}},
	{3, 1}: {{-1, 0}, {-1, 2}, {-1, 1}, {0, 2}, {0, 1}},
}

var iKicks = map[transition][]kick{
	{0, 1}: {{-2, 0}, {1, 0}, {-2, -1}, {1, 2}},
	{1, 0}: {{2, 0}, {-1, 0}, {2, 1}, {-1, -2}},
	{1, 2}: {{-1, 0}, {2, 0}, {-1, 2}, {2, -1}},
	{2, 1}: {{1, 0}, {-2, 0}, {1, -2}, {-2, 1}},
	{2, 3}: {{2, 0}, {-1, 0}, {2, 1}, {-1, -2}},
	{3, 2}: {{-2, 0}, {1, 0}, {-2, -1}, {1, 2}},
	{3, 0}: {{1, 0}, {-2, 0}, {1, -2}, {-2, 1}},
	{0, 3}: {{-1, 0}, {2, 0}, {-1, 2}, {2, -1}},

	{0, 2}: {{0, 1}},
	{2, 0}: {{0, -1}},
	{1, 3}: {{1, 0}},
	{3, 1}: {{-1, 0}},
}

// RotateResult describes the outcome of TryRotate. Kick is the index of the
// test that succeeded: 0 for the unshifted position, 1.. for table entries.
type RotateResult struct {
	Success bool
	Matrix  Matrix
	X, Y    int
	State   int
	Kick    int
}

// LastKick reports whether the result used the final entry of a quarter-turn
// table, which upgrades a T-spin mini to a full T-spin.
func (r RotateResult) LastKick() bool {
	return r.Success && r.Kick == 4
}

// Rotator applies SRS rotation with wall kicks.
type Rotator struct {
	Allow180 bool
}

// TryRotate rotates p in direction dir against s. On failure the result is
// unsuccessful and p is left as it was.
func (r Rotator) TryRotate(p Player, s Stage, dir Direction) RotateResult {
	fail := RotateResult{Matrix: p.Matrix, X: p.X, Y: p.Y, State: p.Rotation}
	if p.Type == PieceO || p.Type == PieceNone {
		return fail
	}

	var m Matrix
	to := p.Rotation
	switch dir {
	case RotateCW:
		m = p.Matrix.RotatedCW()
		to = (p.Rotation + 1) % 4
	case RotateCCW:
		m = p.Matrix.RotatedCCW()
		to = (p.Rotation + 3) % 4
	case Rotate180:
		if !r.Allow180 {
			return fail
		}
		m = p.Matrix.Rotated180()
		to = (p.Rotation + 2) % 4
	default:
		return fail
	}

	table := jlstzKicks
	if p.Type == PieceI {
		table = iKicks
	}
	tests := append([]kick{{0, 0}}, table[transition{p.Rotation, to}]...)

	cand := Player{Type: p.Type, Matrix: m, Rotation: to}
	for i, k := range tests {
		cand.X = p.X + k.x
		cand.Y = p.Y - k.y
		if !CheckCollision(cand, s, Delta{}) {
			return RotateResult{
				Success: true,
				Matrix:  m,
				X:       cand.X,
				Y:       cand.Y,
				State:   to,
				Kick:    i,
			}
		}
	}
	return fail
}

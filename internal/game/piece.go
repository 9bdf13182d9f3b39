package game

// PieceType identifies a tetromino. The zero value is the empty cell value.
type PieceType int

const (
	PieceNone PieceType = iota
	PieceI
	PieceO
	PieceT
	PieceS
	PieceZ
	PieceJ
	PieceL
	PieceGarbage
)

// Tetrominoes lists the seven playable pieces in bag order.
var Tetrominoes = []PieceType{PieceI, PieceO, PieceT, PieceS, PieceZ, PieceJ, PieceL}

var pieceNames = map[PieceType]string{
	PieceNone:    "0",
	PieceI:       "I",
	PieceO:       "O",
	PieceT:       "T",
	PieceS:       "S",
	PieceZ:       "Z",
	PieceJ:       "J",
	PieceL:       "L",
	PieceGarbage: "G",
}

func (t PieceType) String() string {
	if name, ok := pieceNames[t]; ok {
		return name
	}
	return "?"
}

// ParsePieceType is the inverse of String. Unknown names report false.
func ParsePieceType(s string) (PieceType, bool) {
	for t, name := range pieceNames {
		if name == s {
			return t, true
		}
	}
	return PieceNone, false
}

// Matrix is a square occupancy grid for a piece, indexed [row][col].
type Matrix [][]bool

// SRS spawn orientations. Rotating the bounding box yields the other three
// states, so no per-state table is needed.
var pieceShapes = map[PieceType]Matrix{
	PieceI: {
		{false, false, false, false},
		{true, true, true, true},
		{false, false, false, false},
		{false, false, false, false},
	},
	PieceO: {
		{true, true},
		{true, true},
	},
	PieceT: {
		{false, true, false},
		{true, true, true},
		{false, false, false},
	},
	PieceS: {
		{false, true, true},
		{true, true, false},
		{false, false, false},
	},
	PieceZ: {
		{true, true, false},
		{false, true, true},
		{false, false, false},
	},
	PieceJ: {
		{true, false, false},
		{true, true, true},
		{false, false, false},
	},
	PieceL: {
		{false, false, true},
		{true, true, true},
		{false, false, false},
	},
}

// Shape returns a fresh copy of the spawn matrix for t.
func Shape(t PieceType) Matrix {
	return pieceShapes[t].Clone()
}

func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i := range m {
		out[i] = make([]bool, len(m[i]))
		copy(out[i], m[i])
	}
	return out
}

// RotatedCW returns the matrix turned a quarter clockwise.
func (m Matrix) RotatedCW() Matrix {
	n := len(m)
	out := make(Matrix, n)
	for i := range out {
		out[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[j][n-1-i] = m[i][j]
		}
	}
	return out
}

func (m Matrix) RotatedCCW() Matrix {
	n := len(m)
	out := make(Matrix, n)
	for i := range out {
		out[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[n-1-j][i] = m[i][j]
		}
	}
	return out
}

func (m Matrix) Rotated180() Matrix {
	n := len(m)
	out := make(Matrix, n)
	for i := range out {
		out[i] = make([]bool, n)
		for j := 0; j < n; j++ {
			out[i][j] = m[n-1-i][n-1-j]
		}
	}
	return out
}

// Player is the active falling piece. It is owned by the local simulation and
// is never written from network input.
type Player struct {
	Type     PieceType
	Matrix   Matrix
	X, Y     int
	Rotation int
	Collided bool
}

// Spawn places a fresh piece of type t at the top of s, inside the buffer.
func Spawn(t PieceType, s Stage) Player {
	m := Shape(t)
	y := s.Buffer - 2
	if y < 0 {
		y = 0
	}
	return Player{
		Type:   t,
		Matrix: m,
		X:      (s.Width - len(m)) / 2,
		Y:      y,
	}
}

func (p Player) Clone() Player {
	p.Matrix = p.Matrix.Clone()
	return p
}

// Cells returns the absolute stage coordinates of every occupied cell.
func (p Player) Cells() [][2]int {
	out := make([][2]int, 0, 4)
	for y, row := range p.Matrix {
		for x, filled := range row {
			if filled {
				out = append(out, [2]int{p.X + x, p.Y + y})
			}
		}
	}
	return out
}

package game

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tag says how a cell got its value.
type Tag uint8

const (
	// TagClear cells are transient: the active piece or nothing.
	TagClear Tag = iota
	// TagMerged cells are locked into the stack and collide.
	TagMerged
	// TagGhost cells show the projected landing position.
	TagGhost
)

var tagNames = [...]string{"clear", "merged", "ghost"}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "unknown"
}

func parseTag(s string) (Tag, error) {
	for i, name := range tagNames {
		if name == s {
			return Tag(i), nil
		}
	}
	return TagClear, fmt.Errorf("game: unknown cell tag %q", s)
}

// Cell is one stage square.
type Cell struct {
	Value PieceType
	Tag   Tag
}

// Occupied reports whether the cell blocks movement.
func (c Cell) Occupied() bool {
	return c.Tag == TagMerged && c.Value != PieceNone
}

// MarshalJSON encodes a cell as [value, tag], where value is 0 for an empty
// square or the piece letter otherwise.
func (c Cell) MarshalJSON() ([]byte, error) {
	var v any = 0
	if c.Value != PieceNone {
		v = c.Value.String()
	}
	return json.Marshal([2]any{v, c.Tag.String()})
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var raw [2]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("game: decode cell: %w", err)
	}
	var tag string
	if err := json.Unmarshal(raw[1], &tag); err != nil {
		return fmt.Errorf("game: decode cell tag: %w", err)
	}
	t, err := parseTag(tag)
	if err != nil {
		return err
	}
	c.Tag = t
	c.Value = PieceNone

	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		if string(bytes.TrimSpace(raw[0])) == "0" {
			return nil
		}
		return fmt.Errorf("game: cell value %s is neither 0 nor a piece", raw[0])
	}
	v, ok := ParsePieceType(name)
	if !ok || v == PieceNone {
		return fmt.Errorf("game: unknown cell value %q", name)
	}
	c.Value = v
	return nil
}

// Stage is the playfield. Rows[0] is the top of the hidden buffer; the visible
// field starts at Rows[Buffer].
type Stage struct {
	Width  int
	Height int
	Buffer int
	Rows   [][]Cell
}

// NewStage creates an empty stage with height visible rows under buffer
// hidden rows.
func NewStage(width, height, buffer int) Stage {
	s := Stage{Width: width, Height: height, Buffer: buffer}
	s.Rows = make([][]Cell, height+buffer)
	for y := range s.Rows {
		s.Rows[y] = make([]Cell, width)
	}
	return s
}

// TotalHeight is the number of rows including the buffer.
func (s Stage) TotalHeight() int {
	return len(s.Rows)
}

func (s Stage) Clone() Stage {
	out := s
	out.Rows = make([][]Cell, len(s.Rows))
	for y := range s.Rows {
		out.Rows[y] = make([]Cell, len(s.Rows[y]))
		copy(out.Rows[y], s.Rows[y])
	}
	return out
}

func (s Stage) inBounds(x, y int) bool {
	return x >= 0 && x < s.Width && y >= 0 && y < len(s.Rows)
}

// Occupied reports whether (x, y) is a wall or a merged cell.
func (s Stage) Occupied(x, y int) bool {
	if !s.inBounds(x, y) {
		return true
	}
	return s.Rows[y][x].Occupied()
}

// Empty reports whether no merged cells remain.
func (s Stage) Empty() bool {
	for _, row := range s.Rows {
		for _, c := range row {
			if c.Occupied() {
				return false
			}
		}
	}
	return true
}

// BufferOccupied reports whether any merged cell sits above the visible field.
func (s Stage) BufferOccupied() bool {
	for y := 0; y < s.Buffer && y < len(s.Rows); y++ {
		for _, c := range s.Rows[y] {
			if c.Occupied() {
				return true
			}
		}
	}
	return false
}

// Delta is a translation applied to a piece before testing it.
type Delta struct {
	X, Y int
}

// CheckCollision reports whether p moved by d would leave the stage or
// overlap a merged cell. Clear and ghost cells never collide.
func CheckCollision(p Player, s Stage, d Delta) bool {
	for y, row := range p.Matrix {
		for x, filled := range row {
			if !filled {
				continue
			}
			if s.Occupied(p.X+x+d.X, p.Y+y+d.Y) {
				return true
			}
		}
	}
	return false
}

// ProjectGhost returns the lowest resting position for p.
func ProjectGhost(p Player, s Stage) (x, y int, m Matrix) {
	dy := 0
	for !CheckCollision(p, s, Delta{Y: dy + 1}) {
		dy++
	}
	return p.X, p.Y + dy, p.Matrix
}

// MergeAndSweep writes p into a copy of s as merged cells and removes full
// rows. A row is full when every cell is merged and non-empty.
func MergeAndSweep(s Stage, p Player) (Stage, int) {
	out := s.Clone()
	for _, c := range p.Cells() {
		if out.inBounds(c[0], c[1]) {
			out.Rows[c[1]][c[0]] = Cell{Value: p.Type, Tag: TagMerged}
		}
	}
	return Sweep(out)
}

// Sweep removes full rows from a copy of s and shifts the rest down.
// Sweeping an already swept stage clears nothing.
func Sweep(s Stage) (Stage, int) {
	kept := make([][]Cell, 0, len(s.Rows))
	for _, row := range s.Rows {
		if !rowFull(row) {
			kept = append(kept, cloneRow(row))
		}
	}
	cleared := len(s.Rows) - len(kept)
	out := s
	out.Rows = make([][]Cell, 0, len(s.Rows))
	for i := 0; i < cleared; i++ {
		out.Rows = append(out.Rows, make([]Cell, s.Width))
	}
	out.Rows = append(out.Rows, kept...)
	return out, cleared
}

func rowFull(row []Cell) bool {
	for _, c := range row {
		if !c.Occupied() {
			return false
		}
	}
	return true
}

func cloneRow(row []Cell) []Cell {
	out := make([]Cell, len(row))
	copy(out, row)
	return out
}

// InsertGarbageRow pushes the stack up one row and fills the bottom with
// garbage leaving hole open. overflow is true when a merged cell was pushed
// off the top of the buffer.
func (s Stage) InsertGarbageRow(hole int) (out Stage, overflow bool) {
	for _, c := range s.Rows[0] {
		if c.Occupied() {
			overflow = true
			break
		}
	}
	row := make([]Cell, s.Width)
	for x := range row {
		if x != hole {
			row[x] = Cell{Value: PieceGarbage, Tag: TagMerged}
		}
	}
	out = s
	out.Rows = make([][]Cell, 0, len(s.Rows))
	for _, r := range s.Rows[1:] {
		out.Rows = append(out.Rows, cloneRow(r))
	}
	out.Rows = append(out.Rows, row)
	return out, overflow
}

// Render returns a copy of s with the active piece drawn as clear cells and,
// when ghost is set, its landing position drawn as ghost cells.
func (s Stage) Render(p Player, ghost bool) Stage {
	out := s.Clone()
	if p.Type == PieceNone {
		return out
	}
	if ghost {
		gx, gy, gm := ProjectGhost(p, s)
		g := Player{Type: p.Type, Matrix: gm, X: gx, Y: gy}
		for _, c := range g.Cells() {
			if out.inBounds(c[0], c[1]) && !out.Rows[c[1]][c[0]].Occupied() {
				out.Rows[c[1]][c[0]] = Cell{Value: p.Type, Tag: TagGhost}
			}
		}
	}
	for _, c := range p.Cells() {
		if out.inBounds(c[0], c[1]) {
			out.Rows[c[1]][c[0]] = Cell{Value: p.Type, Tag: TagClear}
		}
	}
	return out
}

// Visible returns the rows below the buffer.
func (s Stage) Visible() [][]Cell {
	return s.Rows[s.Buffer:]
}

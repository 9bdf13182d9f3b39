package game

import (
	"testing"

	"github.com/hersh/duotris/internal/attack"
)

func fillRow(s Stage, y int, skip ...int) {
	for x := 0; x < s.Width; x++ {
		hole := false
		for _, k := range skip {
			if k == x {
				hole = true
			}
		}
		if !hole {
			s.Rows[y][x] = Cell{Value: PieceGarbage, Tag: TagMerged}
		}
	}
}

func TestSpawnNeverCollidesOnEmptyStage(t *testing.T) {
	s := NewStage(BoardWidth, BoardHeight, BufferHeight)
	for _, pt := range Tetrominoes {
		p := Spawn(pt, s)
		if CheckCollision(p, s, Delta{}) {
			t.Fatalf("%s collides at spawn", pt)
		}
	}
}

func TestCollisionIgnoresClearAndGhostCells(t *testing.T) {
	s := NewStage(BoardWidth, BoardHeight, BufferHeight)
	p := Spawn(PieceT, s)
	rendered := s.Render(p, true)
	if CheckCollision(p, rendered, Delta{}) {
		t.Fatalf("active piece collides with its own rendered cells")
	}
	_, gy, _ := ProjectGhost(p, s)
	ghost := p
	ghost.Y = gy
	if CheckCollision(ghost, rendered, Delta{}) {
		t.Fatalf("ghost cells should not collide")
	}
	if !CheckCollision(ghost, rendered, Delta{Y: 1}) {
		t.Fatalf("ghost should rest on the floor")
	}
}

func TestMergeAndSweepClearsFullRows(t *testing.T) {
	s := NewStage(BoardWidth, BoardHeight, BufferHeight)
	bottom := s.TotalHeight() - 1
	fillRow(s, bottom, 3, 4, 5, 6)
	s.Rows[bottom-1][0] = Cell{Value: PieceGarbage, Tag: TagMerged}

	p := Spawn(PieceI, s)
	p.Y = bottom - 1 // matrix row 1 lands on the bottom row

	out, lines := MergeAndSweep(s, p)
	if lines != 1 {
		t.Fatalf("expected 1 line, got %d", lines)
	}
	if !out.Rows[bottom][0].Occupied() {
		t.Fatalf("row above the clear should shift down")
	}
	if out.Empty() {
		t.Fatalf("stage should not be empty")
	}
	if s.Rows[bottom][3].Occupied() {
		t.Fatalf("input stage was mutated")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	s := NewStage(BoardWidth, BoardHeight, BufferHeight)
	bottom := s.TotalHeight() - 1
	fillRow(s, bottom)
	fillRow(s, bottom-1, 2)

	once, n := Sweep(s)
	if n != 1 {
		t.Fatalf("expected 1 cleared row, got %d", n)
	}
	twice, n := Sweep(once)
	if n != 0 {
		t.Fatalf("second sweep cleared %d rows", n)
	}
	for y := range once.Rows {
		for x := range once.Rows[y] {
			if once.Rows[y][x] != twice.Rows[y][x] {
				t.Fatalf("sweep changed cell (%d,%d)", x, y)
			}
		}
	}
}

func TestInsertGarbageRowOverflow(t *testing.T) {
	s := NewStage(BoardWidth, BoardHeight, BufferHeight)
	out, overflow := s.InsertGarbageRow(4)
	if overflow {
		t.Fatalf("empty stage should not overflow")
	}
	bottom := out.Rows[out.TotalHeight()-1]
	for x, c := range bottom {
		if x == 4 && c.Occupied() {
			t.Fatalf("hole column filled")
		}
		if x != 4 && c.Value != PieceGarbage {
			t.Fatalf("column %d not garbage", x)
		}
	}

	s.Rows[0][0] = Cell{Value: PieceT, Tag: TagMerged}
	if _, overflow := s.InsertGarbageRow(0); !overflow {
		t.Fatalf("expected overflow when the top row is occupied")
	}
}

func TestCellJSON(t *testing.T) {
	b, err := json.Marshal([]Cell{{}, {Value: PieceT, Tag: TagMerged}, {Value: PieceGarbage, Tag: TagMerged}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `[[0,"clear"],["T","merged"],["G","merged"]]`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}

	var cells []Cell
	if err := json.Unmarshal([]byte(`[[0,"clear"],["L","ghost"]]`), &cells); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cells[0] != (Cell{}) || cells[1] != (Cell{Value: PieceL, Tag: TagGhost}) {
		t.Fatalf("unexpected cells %+v", cells)
	}
	if err := json.Unmarshal([]byte(`[["L","sparkly"]]`), &cells); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
	for _, in := range []string{`[[7,"merged"]]`, `[[null,"merged"]]`, `[[true,"clear"]]`, `[[0.5,"clear"]]`, `[["0","clear"]]`} {
		if err := json.Unmarshal([]byte(in), &cells); err == nil {
			t.Fatalf("expected %s to be rejected", in)
		}
	}
}

func TestClassifyTSpin(t *testing.T) {
	s := NewStage(BoardWidth, BoardHeight, BufferHeight)
	bottom := s.TotalHeight() - 1
	// T pointing down into a slot at columns 3..5
	p := Player{Type: PieceT, Matrix: Shape(PieceT).Rotated180(), X: 3, Y: bottom - 2, Rotation: 2}

	s.Rows[bottom][3] = Cell{Value: PieceGarbage, Tag: TagMerged}
	s.Rows[bottom][5] = Cell{Value: PieceGarbage, Tag: TagMerged}
	s.Rows[bottom-2][3] = Cell{Value: PieceGarbage, Tag: TagMerged}
	if got := ClassifyTSpin(p, s, false); got != attack.SpinFull {
		t.Fatalf("expected full, got %s", got)
	}

	s2 := NewStage(BoardWidth, BoardHeight, BufferHeight)
	s2.Rows[bottom-2][3] = Cell{Value: PieceGarbage, Tag: TagMerged}
	s2.Rows[bottom-2][5] = Cell{Value: PieceGarbage, Tag: TagMerged}
	s2.Rows[bottom][3] = Cell{Value: PieceGarbage, Tag: TagMerged}
	if got := ClassifyTSpin(p, s2, false); got != attack.SpinMini {
		t.Fatalf("expected mini, got %s", got)
	}
	if got := ClassifyTSpin(p, s2, true); got != attack.SpinFull {
		t.Fatalf("final kick should upgrade to full, got %s", got)
	}

	s3 := NewStage(BoardWidth, BoardHeight, BufferHeight)
	s3.Rows[bottom][3] = Cell{Value: PieceGarbage, Tag: TagMerged}
	if got := ClassifyTSpin(p, s3, false); got != attack.SpinNone {
		t.Fatalf("expected none, got %s", got)
	}
}

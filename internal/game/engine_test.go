package game

import (
	"reflect"
	"testing"
	"time"
)

func newTestEngine(initial ...PieceType) *Engine {
	return NewEngine(DefaultConfig(), 42, initial)
}

func tap(e *Engine, now time.Time, a Action) []Emission {
	out := e.Step(now, Press{Action: a})
	return append(out, e.Step(now, Release{Action: a})...)
}

func findEmission[T Emission](ems []Emission) (T, bool) {
	for _, em := range ems {
		if v, ok := em.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func TestEnginesWithSameSeedStayInLockstep(t *testing.T) {
	a := newTestEngine(PieceI, PieceO)
	b := newTestEngine(PieceI, PieceO)
	wellStage(a)
	wellStage(b)
	var outA, outB []Emission
	outA = append(outA, a.Start(t0)...)
	outB = append(outB, b.Start(t0)...)

	now := t0.Add(ms(50))
	outA = append(outA, dropIIntoWell(a, now)...)
	outB = append(outB, dropIIntoWell(b, now)...)
	placed, ok := findEmission[Placed](outA)
	if !ok || placed.Result.Lines != 4 {
		t.Fatalf("scripted drop should clear four lines, got %v", outA)
	}
	if a.Combo() != 1 || a.B2B() != 1 || a.Combo() != b.Combo() || a.B2B() != b.B2B() {
		t.Fatalf("counters after the clear: a=%d/%d b=%d/%d", a.Combo(), a.B2B(), b.Combo(), b.B2B())
	}

	outA = append(outA, a.Step(now, IncomingGarbage{Lines: 2})...)
	outB = append(outB, b.Step(now, IncomingGarbage{Lines: 2})...)

	script := []Action{ActionLeft, ActionRotateCW, ActionHardDrop, ActionRight, ActionRight, ActionHardDrop, ActionHold, ActionRotateCCW, ActionHardDrop, ActionSoftDrop}
	for i := 0; i < 40; i++ {
		now = now.Add(ms(137))
		act := script[i%len(script)]
		outA = append(outA, tap(a, now, act)...)
		outB = append(outB, tap(b, now, act)...)
	}
	now = now.Add(5 * time.Second)
	outA = append(outA, a.Step(now, Tick{})...)
	outB = append(outB, b.Step(now, Tick{})...)

	if _, ok := findEmission[GarbageApplied](outA); !ok {
		t.Fatalf("incoming garbage never landed")
	}
	if len(outA) != len(outB) {
		t.Fatalf("emission counts diverged: %d vs %d", len(outA), len(outB))
	}
	for i := range outA {
		if !reflect.DeepEqual(outA[i], outB[i]) {
			t.Fatalf("emission %d diverged: %#v vs %#v", i, outA[i], outB[i])
		}
	}
	if a.Combo() != b.Combo() || a.B2B() != b.B2B() {
		t.Fatalf("counters diverged: a=%d/%d b=%d/%d", a.Combo(), a.B2B(), b.Combo(), b.B2B())
	}

	sa, sb := a.Snapshot(false), b.Snapshot(false)
	if sa.Score != sb.Score || sa.Lines != sb.Lines || sa.Over != sb.Over || sa.Hold != sb.Hold {
		t.Fatalf("engines diverged: %+v vs %+v", sa, sb)
	}
	for y := range sa.Stage.Rows {
		for x := range sa.Stage.Rows[y] {
			if sa.Stage.Rows[y][x] != sb.Stage.Rows[y][x] {
				t.Fatalf("stage diverged at (%d,%d)", x, y)
			}
		}
	}
}

func TestHardDropLocksAndSpawns(t *testing.T) {
	e := newTestEngine(PieceT, PieceI)
	e.Start(t0)
	out := tap(e, t0, ActionHardDrop)

	placed, ok := findEmission[Placed](out)
	if !ok {
		t.Fatalf("expected a placement, got %v", out)
	}
	if placed.Result.Piece != PieceT || placed.Result.Lines != 0 {
		t.Fatalf("unexpected placement %+v", placed.Result)
	}
	if e.Player().Type != PieceI {
		t.Fatalf("expected I to spawn next, got %s", e.Player().Type)
	}
	merged := 0
	for _, row := range e.Stage().Rows {
		for _, c := range row {
			if c.Occupied() {
				merged++
			}
		}
	}
	if merged != 4 {
		t.Fatalf("expected 4 merged cells, got %d", merged)
	}
}

func TestGravityMovesPieceDown(t *testing.T) {
	e := newTestEngine()
	e.Start(t0)
	y := e.Player().Y
	e.Step(t0.Add(GravityInterval(1)-ms(1)), Tick{})
	if e.Player().Y != y {
		t.Fatalf("moved before the gravity deadline")
	}
	e.Step(t0.Add(GravityInterval(1)), Tick{})
	if e.Player().Y != y+1 {
		t.Fatalf("expected y=%d, got %d", y+1, e.Player().Y)
	}
}

func TestPieceLocksOnItsOwn(t *testing.T) {
	e := newTestEngine()
	e.Start(t0)
	out := e.Step(t0.Add(time.Minute), Tick{})
	if _, ok := findEmission[Placed](out); !ok {
		t.Fatalf("expected timers to lock at least one piece")
	}
}

func TestHoldOncePerPiece(t *testing.T) {
	e := newTestEngine(PieceT, PieceS, PieceZ)
	e.Start(t0)
	tap(e, t0, ActionHold)
	if e.Hold() != PieceT || e.Player().Type != PieceS {
		t.Fatalf("hold swapped wrong: hold=%s active=%s", e.Hold(), e.Player().Type)
	}
	tap(e, t0, ActionHold)
	if e.Hold() != PieceT || e.Player().Type != PieceS {
		t.Fatalf("second hold should be ignored")
	}
	tap(e, t0, ActionHardDrop)
	tap(e, t0, ActionHold)
	if e.Hold() != PieceZ || e.Player().Type != PieceT {
		t.Fatalf("hold after lock: hold=%s active=%s", e.Hold(), e.Player().Type)
	}
}

func TestPendingGarbageWaitsForCancelDelay(t *testing.T) {
	e := newTestEngine()
	e.Start(t0)
	e.Step(t0, IncomingGarbage{Lines: 2})
	out := tap(e, t0.Add(ms(100)), ActionHardDrop)
	if _, ok := findEmission[GarbageApplied](out); ok {
		t.Fatalf("garbage applied during the cancel delay")
	}
	if e.PendingGarbage() != 2 || e.GarbageLocked() {
		t.Fatalf("expected 2 pending unlocked rows")
	}
}

func TestLockedGarbageAppliesAfterNonClearingLock(t *testing.T) {
	e := newTestEngine()
	e.Start(t0)
	e.Step(t0, IncomingGarbage{Lines: 2})
	e.Step(t0.Add(ms(500)), Tick{})
	if !e.GarbageLocked() {
		t.Fatalf("garbage should lock after the cancel delay")
	}

	out := tap(e, t0.Add(ms(600)), ActionHardDrop)
	applied, ok := findEmission[GarbageApplied](out)
	if !ok || applied.Rows != 2 {
		t.Fatalf("expected 2 garbage rows, got %v", out)
	}
	s := e.Stage()
	bottom := s.TotalHeight() - 1
	hole := -1
	for _, y := range []int{bottom, bottom - 1} {
		count := 0
		for x, c := range s.Rows[y] {
			if c.Value == PieceGarbage {
				count++
			} else if y == bottom {
				hole = x
			}
		}
		if count != s.Width-1 {
			t.Fatalf("row %d has %d garbage cells", y, count)
		}
		if s.Rows[y][hole].Occupied() {
			t.Fatalf("rows do not share a hole")
		}
	}
	if e.PendingGarbage() != 0 {
		t.Fatalf("queue not drained")
	}
}

// garbageUnderSpawn locks rows of incoming garbage and builds a stack whose
// top sits right under the spawned O at rows 2-3.
func garbageUnderSpawn(t *testing.T, rows int) *Engine {
	t.Helper()
	e := newTestEngine(PieceO, PieceO, PieceO)
	e.Start(t0)
	e.Step(t0, IncomingGarbage{Lines: rows})
	e.Step(t0.Add(ms(500)), Tick{})
	if !e.GarbageLocked() || e.Player().Y != 2 {
		t.Fatalf("setup: locked=%v y=%d", e.GarbageLocked(), e.Player().Y)
	}
	for y := 4; y < e.stage.TotalHeight(); y++ {
		fillRow(e.stage, y, 0)
	}
	return e
}

func TestGarbageLiftsActivePiece(t *testing.T) {
	e := garbageUnderSpawn(t, 2)
	e.applyGarbage(t0.Add(ms(600)))
	out := e.flush()

	if applied, ok := findEmission[GarbageApplied](out); !ok || applied.Rows != 2 {
		t.Fatalf("expected 2 rows applied, got %v", out)
	}
	p := e.Player()
	if p.Y != 0 || e.Over() {
		t.Fatalf("piece should be lifted to y=0 and keep playing, got y=%d over=%v", p.Y, e.Over())
	}
	if CheckCollision(p, e.Stage(), Delta{}) {
		t.Fatalf("lifted piece overlaps the stack")
	}
	if e.PendingGarbage() != 0 {
		t.Fatalf("pending = %d", e.PendingGarbage())
	}
}

func TestGarbageForcesLockWhenLiftRunsOut(t *testing.T) {
	e := garbageUnderSpawn(t, 5)
	e.applyGarbage(t0.Add(ms(600)))
	out := e.flush()

	if applied, ok := findEmission[GarbageApplied](out); !ok || applied.Rows != 2 {
		t.Fatalf("only the rows that fit should apply, got %v", out)
	}
	if _, ok := findEmission[Placed](out); !ok {
		t.Fatalf("piece should be locked in place, got %v", out)
	}
	top, ok := findEmission[TopOut](out)
	if !ok || top.Reason != ReasonLockOut || !e.Over() || e.Reason() != ReasonLockOut {
		t.Fatalf("expected lockout, got %v (over=%v reason=%q)", out, e.Over(), e.Reason())
	}
	if e.PendingGarbage() != 3 {
		t.Fatalf("unapplied rows should stay queued, pending = %d", e.PendingGarbage())
	}
}

// wellStage fills the bottom four rows except column 0, with one extra cell
// above so the clear is not a perfect clear.
func wellStage(e *Engine) {
	bottom := e.stage.TotalHeight() - 1
	for y := bottom - 3; y <= bottom; y++ {
		fillRow(e.stage, y, 0)
	}
	e.stage.Rows[bottom-4][5] = Cell{Value: PieceGarbage, Tag: TagMerged}
}

func dropIIntoWell(e *Engine, now time.Time) []Emission {
	var out []Emission
	out = append(out, tap(e, now, ActionRotateCW)...)
	for i := 0; i < 5; i++ {
		out = append(out, tap(e, now, ActionLeft)...)
	}
	return append(out, tap(e, now, ActionHardDrop)...)
}

func TestTetrisSendsAttack(t *testing.T) {
	e := newTestEngine(PieceI, PieceO)
	wellStage(e)
	e.Start(t0)

	out := dropIIntoWell(e, t0)
	placed, ok := findEmission[Placed](out)
	if !ok || placed.Result.Lines != 4 || placed.Result.PerfectClear {
		t.Fatalf("expected a tetris, got %v", out)
	}
	atk, ok := findEmission[Attack](out)
	if !ok || atk.Lines != 4 {
		t.Fatalf("expected 4 lines of attack, got %v", out)
	}
	if e.B2B() != 1 || e.Combo() != 1 {
		t.Fatalf("counters: b2b=%d combo=%d", e.B2B(), e.Combo())
	}
}

func TestAttackCancelsIncomingFirst(t *testing.T) {
	e := newTestEngine(PieceI, PieceO)
	wellStage(e)
	e.Start(t0)
	e.Step(t0, IncomingGarbage{Lines: 3})

	out := dropIIntoWell(e, t0.Add(ms(50)))
	atk, ok := findEmission[Attack](out)
	if !ok || atk.Lines != 1 {
		t.Fatalf("expected 1 line after cancelling, got %v", out)
	}
	if e.PendingGarbage() != 0 {
		t.Fatalf("incoming garbage should be cancelled, %d left", e.PendingGarbage())
	}
}

func TestAbortEndsGame(t *testing.T) {
	e := newTestEngine()
	e.Start(t0)
	out := e.Abort(ReasonAFK)
	top, ok := findEmission[TopOut](out)
	if !ok || top.Reason != ReasonAFK || !e.Over() {
		t.Fatalf("expected afk topout, got %v", out)
	}
	if out := tap(e, t0, ActionHardDrop); len(out) != 0 {
		t.Fatalf("input after game over produced %v", out)
	}
}

func TestBlockOutWhenSpawnIsCovered(t *testing.T) {
	e := newTestEngine(PieceT, PieceT)
	for y := e.stage.Buffer; y < e.stage.TotalHeight(); y++ {
		fillRow(e.stage, y, y%e.stage.Width)
	}
	for x := 0; x < e.stage.Width; x++ {
		e.stage.Rows[e.stage.Buffer-1][x] = Cell{Value: PieceGarbage, Tag: TagMerged}
	}
	out := e.Start(t0)
	top, ok := findEmission[TopOut](out)
	if !ok || top.Reason != ReasonBlockOut {
		t.Fatalf("expected blockout, got %v", out)
	}
}

func TestRelayQueueRequestsPieces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelayPieces = true
	e := NewEngine(cfg, 1, []PieceType{PieceT, PieceI, PieceO, PieceS, PieceZ, PieceJ, PieceL})
	out := e.Start(t0)
	need, ok := findEmission[NeedPieces](out)
	if !ok || need.Count != 7 {
		t.Fatalf("expected a refill request, got %v", out)
	}
	e.Step(t0, Refill{Pieces: []PieceType{PieceL, PieceJ}})
	snap := e.Snapshot(false)
	if len(snap.Next) != 5 || snap.Next[0] != PieceI {
		t.Fatalf("unexpected preview %v", snap.Next)
	}
}

func TestStarvedQueueContinuesRelaySequence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelayPieces = true
	seq := NewBag(9).Take(21)
	e := NewEngine(cfg, 9, append([]PieceType(nil), seq[:7]...))
	e.Start(t0)

	// the relay never answers: pieces 1-6 come from the queue, 7-10 from
	// the local bag
	for i := 1; i <= 10; i++ {
		if got := e.popQueue(); got != seq[i] {
			t.Fatalf("piece %d: got %s want %s", i, got, seq[i])
		}
	}

	// the late batch holds pieces 7-13; 7-10 were already played
	e.Step(t0, Refill{Pieces: seq[7:14]})
	for i := 11; i <= 15; i++ {
		if got := e.popQueue(); got != seq[i] {
			t.Fatalf("piece %d after refill: got %s want %s", i, got, seq[i])
		}
	}
}

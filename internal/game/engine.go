package game

import (
	"math/rand"
	"time"

	"github.com/hersh/duotris/internal/attack"
)

const (
	BoardWidth   = 10
	BoardHeight  = 20
	BufferHeight = 4
	PreviewCount = 5
)

// Config tunes one local simulation.
type Config struct {
	Width       int
	Height      int
	Buffer      int
	Preview     int
	Allow180    bool
	DAS         time.Duration
	ARR         time.Duration
	SoftDrop    time.Duration
	LockDelay   time.Duration
	LockHardCap time.Duration
	CancelDelay time.Duration
	// RelayPieces makes the queue wait for Refill events instead of drawing
	// from the local bag.
	RelayPieces bool
}

func DefaultConfig() Config {
	return Config{
		Width:       BoardWidth,
		Height:      BoardHeight,
		Buffer:      BufferHeight,
		Preview:     PreviewCount,
		Allow180:    true,
		DAS:         120 * time.Millisecond,
		ARR:         40 * time.Millisecond,
		SoftDrop:    50 * time.Millisecond,
		LockDelay:   DefaultLockDelay,
		LockHardCap: DefaultLockHardCap,
		CancelDelay: attack.DefaultCancelDelay,
	}
}

var dropSpeeds = []time.Duration{
	800 * time.Millisecond,
	720 * time.Millisecond,
	630 * time.Millisecond,
	550 * time.Millisecond,
	470 * time.Millisecond,
	380 * time.Millisecond,
	300 * time.Millisecond,
	220 * time.Millisecond,
	130 * time.Millisecond,
	100 * time.Millisecond,
	80 * time.Millisecond,
	80 * time.Millisecond,
	80 * time.Millisecond,
	70 * time.Millisecond,
	70 * time.Millisecond,
	70 * time.Millisecond,
	50 * time.Millisecond,
	50 * time.Millisecond,
	50 * time.Millisecond,
	30 * time.Millisecond,
}

// GravityInterval is the time between automatic drops at level.
func GravityInterval(level int) time.Duration {
	if level < 1 {
		level = 1
	}
	if level > len(dropSpeeds) {
		return dropSpeeds[len(dropSpeeds)-1]
	}
	return dropSpeeds[level-1]
}

var lineScores = map[int]int{
	1: 100,
	2: 300,
	3: 500,
	4: 800,
}

// Snapshot is a read-only copy of the engine state.
type Snapshot struct {
	Stage         Stage
	Hold          PieceType
	CanHold       bool
	Next          []PieceType
	Garbage       int
	GarbageLocked bool
	Score         int
	Lines         int
	Level         int
	Combo         int
	B2B           int
	Over          bool
	Reason        string
	Version       uint64
}

// Engine is the local, authoritative simulation for one player. It has no
// clock of its own: every timer is a Deadline checked against the timestamp
// passed to Step, so identical inputs replay identically.
type Engine struct {
	cfg     Config
	rot     Rotator
	stage   Stage
	player  Player
	hold    PieceType
	canHold bool
	queue   []PieceType
	bag     *Bag
	holes   *rand.Rand
	lock    LockDelay
	tracker attack.Tracker
	garbage *attack.Queue

	gravity  Deadline
	shift    Deadline
	shiftDir int
	shiftAct Action
	soft     Deadline

	lastRotate bool
	lastKick   bool

	score     int
	lines     int
	level     int
	version   uint64
	started   bool
	over      bool
	reason    string
	requested bool

	// In relay mode the relay deals from the same seeded sequence as bag.
	// dealt counts pieces of that sequence queued so far, relayed those that
	// came from the relay, and drawn the bag draws.
	dealt   int
	relayed int
	drawn   int

	out []Emission
}

// NewEngine creates an engine whose queue starts with initial and continues
// from a 7-bag seeded with seed. With RelayPieces, initial is the start of
// the relay's sequence for seed.
func NewEngine(cfg Config, seed int64, initial []PieceType) *Engine {
	e := &Engine{
		cfg:     cfg,
		rot:     Rotator{Allow180: cfg.Allow180},
		stage:   NewStage(cfg.Width, cfg.Height, cfg.Buffer),
		canHold: true,
		bag:     NewBag(seed),
		holes:   rand.New(rand.NewSource(seed ^ 0x5f3759df)),
		lock:    NewLockDelay(cfg.LockDelay, cfg.LockHardCap),
		garbage: attack.NewQueue(cfg.CancelDelay),
		level:   1,
	}
	e.queue = append(e.queue, initial...)
	if cfg.RelayPieces {
		e.dealt = len(initial)
		e.relayed = len(initial)
	}
	return e
}

// Start spawns the first piece.
func (e *Engine) Start(now time.Time) []Emission {
	if e.started {
		return nil
	}
	e.started = true
	e.spawn(now, e.popQueue())
	return e.flush()
}

// Step advances the simulation to now and applies ev. Timers that expire
// strictly before now fire first, then ev, then timers due exactly at now.
func (e *Engine) Step(now time.Time, ev Event) []Emission {
	if r, ok := ev.(Refill); ok {
		e.refill(r.Pieces)
	}
	if !e.started || e.over {
		return e.flush()
	}
	e.advance(now, false)
	if !e.over {
		e.apply(now, ev)
	}
	if !e.over {
		e.advance(now, true)
	}
	return e.flush()
}

// Abort ends the game for a reason decided outside the engine, such as AFK.
func (e *Engine) Abort(reason string) []Emission {
	e.topOut(reason)
	return e.flush()
}

func (e *Engine) Over() bool          { return e.over }
func (e *Engine) Reason() string      { return e.reason }
func (e *Engine) Started() bool       { return e.started }
func (e *Engine) Version() uint64     { return e.version }
func (e *Engine) Stage() Stage        { return e.stage.Clone() }
func (e *Engine) Player() Player      { return e.player.Clone() }
func (e *Engine) Hold() PieceType     { return e.hold }
func (e *Engine) Combo() int          { return e.tracker.Combo }
func (e *Engine) B2B() int            { return e.tracker.B2B }
func (e *Engine) PendingGarbage() int { return e.garbage.Amount() }
func (e *Engine) GarbageLocked() bool { return e.garbage.Locked() }

// Snapshot copies the current state. The stage includes the active piece and
// optionally its ghost.
func (e *Engine) Snapshot(ghost bool) Snapshot {
	n := e.cfg.Preview
	if n > len(e.queue) {
		n = len(e.queue)
	}
	next := make([]PieceType, n)
	copy(next, e.queue[:n])

	stage := e.stage.Clone()
	if e.started && !e.over {
		stage = e.stage.Render(e.player, ghost)
	}
	return Snapshot{
		Stage:         stage,
		Hold:          e.hold,
		CanHold:       e.canHold,
		Next:          next,
		Garbage:       e.garbage.Amount(),
		GarbageLocked: e.garbage.Locked(),
		Score:         e.score,
		Lines:         e.lines,
		Level:         e.level,
		Combo:         e.tracker.Combo,
		B2B:           e.tracker.B2B,
		Over:          e.over,
		Reason:        e.reason,
		Version:       e.version,
	}
}

func (e *Engine) emit(em Emission) {
	e.out = append(e.out, em)
}

func (e *Engine) flush() []Emission {
	out := e.out
	e.out = nil
	return out
}

type timer int

const (
	timerNone timer = iota
	timerGarbage
	timerLock
	timerGravity
	timerShift
	timerSoft
)

// nextTimer returns the earliest armed timer. Ties go to the order above.
func (e *Engine) nextTimer() (time.Time, timer) {
	var (
		at   time.Time
		kind = timerNone
	)
	consider := func(t time.Time, ok bool, k timer) {
		if ok && (kind == timerNone || t.Before(at)) {
			at, kind = t, k
		}
	}
	gAt, gOK := e.garbage.Deadline()
	consider(gAt, gOK, timerGarbage)
	lAt, lOK := e.lock.Next()
	consider(lAt, lOK, timerLock)
	consider(e.gravity.At(), e.gravity.Armed(), timerGravity)
	consider(e.shift.At(), e.shift.Armed(), timerShift)
	consider(e.soft.At(), e.soft.Armed(), timerSoft)
	return at, kind
}

func (e *Engine) advance(limit time.Time, inclusive bool) {
	for !e.over {
		at, kind := e.nextTimer()
		if kind == timerNone || at.After(limit) || (!inclusive && at.Equal(limit)) {
			return
		}
		e.fire(at, kind)
	}
}

func (e *Engine) fire(at time.Time, kind timer) {
	switch kind {
	case timerGarbage:
		if e.garbage.Poll(at) {
			e.version++
		}
	case timerLock:
		if e.lock.Due(at) {
			e.lockPiece(at, true)
		}
	case timerGravity:
		if !e.tryMove(at, 0, 1) {
			e.lock.Observe(at, true)
		}
		e.gravity.Arm(at.Add(GravityInterval(e.level)))
	case timerShift:
		if e.cfg.ARR <= 0 {
			for e.tryMove(at, e.shiftDir, 0) {
			}
			e.shift.Cancel()
			return
		}
		e.tryMove(at, e.shiftDir, 0)
		e.shift.Arm(at.Add(e.cfg.ARR))
	case timerSoft:
		e.softDrop(at)
		e.soft.Arm(at.Add(e.softInterval()))
	}
}

func (e *Engine) softInterval() time.Duration {
	if e.cfg.SoftDrop <= 0 {
		return GravityInterval(len(dropSpeeds))
	}
	return e.cfg.SoftDrop
}

func (e *Engine) apply(now time.Time, ev Event) {
	switch ev := ev.(type) {
	case Press:
		e.press(now, ev.Action)
	case Release:
		e.release(ev.Action)
	case IncomingGarbage:
		if ev.Lines > 0 {
			e.garbage.Receive(now, ev.Lines)
			e.version++
		}
	}
}

func (e *Engine) press(now time.Time, a Action) {
	switch a {
	case ActionLeft, ActionRight:
		dir := -1
		if a == ActionRight {
			dir = 1
		}
		e.shiftAct = a
		e.shiftDir = dir
		e.tryMove(now, dir, 0)
		e.shift.Arm(now.Add(e.cfg.DAS))
	case ActionSoftDrop:
		e.softDrop(now)
		e.soft.Arm(now.Add(e.softInterval()))
	case ActionHardDrop:
		e.hardDrop(now)
	case ActionRotateCW:
		e.rotate(now, RotateCW)
	case ActionRotateCCW:
		e.rotate(now, RotateCCW)
	case ActionRotate180:
		e.rotate(now, Rotate180)
	case ActionHold:
		e.holdPiece(now)
	}
}

func (e *Engine) release(a Action) {
	switch a {
	case ActionLeft, ActionRight:
		if a == e.shiftAct {
			e.shift.Cancel()
			e.shiftAct = ActionNone
			e.shiftDir = 0
		}
	case ActionSoftDrop:
		e.soft.Cancel()
	}
}

func (e *Engine) grounded() bool {
	return CheckCollision(e.player, e.stage, Delta{Y: 1})
}

func (e *Engine) tryMove(now time.Time, dx, dy int) bool {
	if dx == 0 && dy == 0 {
		return false
	}
	if CheckCollision(e.player, e.stage, Delta{X: dx, Y: dy}) {
		return false
	}
	e.player.X += dx
	e.player.Y += dy
	e.lastRotate = false
	e.lastKick = false
	e.lock.Moved(now, e.grounded())
	e.version++
	return true
}

func (e *Engine) softDrop(now time.Time) {
	if e.tryMove(now, 0, 1) {
		e.score++
		e.gravity.Arm(now.Add(GravityInterval(e.level)))
	}
}

func (e *Engine) hardDrop(now time.Time) {
	_, y, _ := ProjectGhost(e.player, e.stage)
	if dist := y - e.player.Y; dist > 0 {
		e.player.Y = y
		e.lastRotate = false
		e.lastKick = false
		e.score += 2 * dist
	}
	e.lockPiece(now, true)
}

func (e *Engine) rotate(now time.Time, dir Direction) {
	res := e.rot.TryRotate(e.player, e.stage, dir)
	if !res.Success {
		return
	}
	e.player.Matrix = res.Matrix
	e.player.X = res.X
	e.player.Y = res.Y
	e.player.Rotation = res.State
	e.lastRotate = true
	e.lastKick = dir != Rotate180 && res.LastKick()
	e.lock.Moved(now, e.grounded())
	e.version++
}

func (e *Engine) holdPiece(now time.Time) {
	if !e.canHold {
		return
	}
	cur := e.player.Type
	e.canHold = false
	if e.hold == PieceNone {
		e.hold = cur
		e.spawn(now, e.popQueue())
		return
	}
	t := e.hold
	e.hold = cur
	e.spawn(now, t)
}

func (e *Engine) popQueue() PieceType {
	e.fillQueue()
	if len(e.queue) == 0 {
		// relay starved us; keep playing from the local bag
		e.draw()
	}
	t := e.queue[0]
	e.queue = e.queue[1:]
	e.fillQueue()
	return t
}

func (e *Engine) fillQueue() {
	want := e.cfg.Preview + 1
	if e.cfg.RelayPieces {
		if len(e.queue) < want+len(Tetrominoes) && !e.requested {
			e.requested = true
			e.emit(NeedPieces{Count: len(Tetrominoes)})
		}
		return
	}
	for len(e.queue) < want {
		e.draw()
	}
}

// draw queues the next piece of the seeded sequence, skipping whatever the
// relay already dealt.
func (e *Engine) draw() {
	for e.drawn < e.dealt {
		e.bag.Next()
		e.drawn++
	}
	e.queue = append(e.queue, e.bag.Next())
	e.drawn++
	e.dealt++
}

// refill queues pieces from the relay. Pieces the local bag already played
// while starved are dropped from the front of the batch.
func (e *Engine) refill(pieces []PieceType) {
	e.requested = false
	if !e.cfg.RelayPieces {
		e.queue = append(e.queue, pieces...)
		return
	}
	skip := min(e.dealt-e.relayed, len(pieces))
	e.relayed += len(pieces)
	e.dealt += len(pieces) - skip
	e.queue = append(e.queue, pieces[skip:]...)
}

func (e *Engine) spawn(now time.Time, t PieceType) {
	e.player = Spawn(t, e.stage)
	e.lastRotate = false
	e.lastKick = false
	e.lock.Reset()
	e.gravity.Arm(now.Add(GravityInterval(e.level)))
	e.version++
	if CheckCollision(e.player, e.stage, Delta{}) {
		e.topOut(ReasonBlockOut)
		return
	}
	e.lock.Observe(now, e.grounded())
}

// lockPiece merges the active piece, scores it, and spawns the next one.
// Locked garbage is applied only after a lock that cleared nothing, and a
// lock forced by garbage does not trigger a second garbage pass.
func (e *Engine) lockPiece(now time.Time, allowGarbage bool) {
	spin := attack.SpinNone
	if e.lastRotate {
		spin = ClassifyTSpin(e.player, e.stage, e.lastKick)
	}
	stage, lines := MergeAndSweep(e.stage, e.player)
	pc := lines > 0 && stage.Empty()
	sent := e.tracker.Record(lines, spin, pc)

	e.stage = stage
	e.lines += lines
	e.score += lineScores[lines] * e.level
	e.level = e.lines/10 + 1
	e.lock.Lock()
	e.version++

	e.emit(Placed{Result: PlacementResult{
		Piece:        e.player.Type,
		Lines:        lines,
		Spin:         spin,
		PerfectClear: pc,
		Combo:        e.tracker.Combo,
		B2B:          e.tracker.B2B,
		Attack:       sent,
		Stage:        stage.Clone(),
	}})
	if sent > 0 {
		if rest := e.garbage.Cancel(now, sent); rest > 0 {
			e.emit(Attack{Lines: rest})
		}
	}

	if stage.BufferOccupied() {
		e.topOut(ReasonLockOut)
		return
	}
	e.canHold = true
	e.spawn(now, e.popQueue())
	if e.over {
		return
	}
	if lines == 0 && allowGarbage && e.garbage.Locked() {
		e.applyGarbage(now)
	}
}

// applyGarbage pushes every locked row into the stage with one shared hole.
// If a row would land on the active piece it is lifted up to two rows; when
// that is not enough insertion stops, the rest stays queued, and the piece
// locks where it is.
func (e *Engine) applyGarbage(now time.Time) {
	rows := e.garbage.Amount()
	hole := e.holes.Intn(e.stage.Width)
	applied := 0
	forced := false
	for i := 0; i < rows; i++ {
		next, overflow := e.stage.InsertGarbageRow(hole)
		if CheckCollision(e.player, next, Delta{}) {
			lift := e.liftFor(next)
			if lift == 0 {
				forced = true
				break
			}
			e.player.Y -= lift
		}
		e.stage = next
		applied++
		if overflow {
			e.garbage.Consume(applied)
			e.emit(GarbageApplied{Rows: applied})
			e.topOut(ReasonOverflow)
			return
		}
	}

	e.garbage.Consume(applied)
	e.lock.Reset()
	e.version++
	if applied > 0 {
		e.emit(GarbageApplied{Rows: applied})
	}
	if forced {
		e.lockPiece(now, false)
		return
	}
	e.lock.Observe(now, e.grounded())
}

func (e *Engine) liftFor(s Stage) int {
	for dy := 1; dy <= 2; dy++ {
		if !CheckCollision(e.player, s, Delta{Y: -dy}) {
			return dy
		}
	}
	return 0
}

func (e *Engine) topOut(reason string) {
	if e.over {
		return
	}
	e.over = true
	e.reason = reason
	e.gravity.Cancel()
	e.shift.Cancel()
	e.soft.Cancel()
	e.lock.Reset()
	e.version++
	e.emit(TopOut{Reason: reason})
}

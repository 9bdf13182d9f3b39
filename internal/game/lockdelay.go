package game

import "time"

const (
	DefaultLockDelay   = 750 * time.Millisecond
	DefaultLockHardCap = 3 * time.Second
)

// LockState is the grounding state of the active piece.
type LockState int

const (
	LockAirborne LockState = iota
	LockGrounded
	LockLocking
	LockLocked
)

func (s LockState) String() string {
	switch s {
	case LockGrounded:
		return "grounded"
	case LockLocking:
		return "locking"
	case LockLocked:
		return "locked"
	default:
		return "airborne"
	}
}

// LockDelay runs the two lock timers for one piece. The inactivity timer
// restarts on every successful move while grounded. The hard cap starts on
// first grounding and is never extended; it is only checked while grounded, and
// a piece that lands again after the cap has passed locks at once.
type LockDelay struct {
	inactivity time.Duration
	hardCap    time.Duration

	state  LockState
	idle   Deadline
	capAt  time.Time
	capSet bool
}

func NewLockDelay(inactivity, hardCap time.Duration) LockDelay {
	if inactivity <= 0 {
		inactivity = DefaultLockDelay
	}
	if hardCap <= 0 {
		hardCap = DefaultLockHardCap
	}
	return LockDelay{inactivity: inactivity, hardCap: hardCap}
}

func (l *LockDelay) State() LockState { return l.state }

// Observe records whether the piece is resting on something after gravity,
// a spawn, or a change to the stack.
func (l *LockDelay) Observe(now time.Time, grounded bool) {
	switch l.state {
	case LockLocking, LockLocked:
		return
	}
	if !grounded {
		l.state = LockAirborne
		l.idle.Cancel()
		return
	}
	if l.state == LockAirborne {
		l.state = LockGrounded
		if !l.capSet {
			l.capAt = now.Add(l.hardCap)
			l.capSet = true
		}
		l.idle.Arm(now.Add(l.inactivity))
	}
}

// Moved records a successful move or rotation. While grounded it restarts
// the inactivity timer.
func (l *LockDelay) Moved(now time.Time, grounded bool) {
	if l.state == LockGrounded && grounded {
		l.idle.Arm(now.Add(l.inactivity))
		return
	}
	l.Observe(now, grounded)
}

// Next returns the earliest pending lock deadline.
func (l *LockDelay) Next() (time.Time, bool) {
	if l.state != LockGrounded {
		return time.Time{}, false
	}
	at := l.idle.At()
	if !l.idle.Armed() || l.capAt.Before(at) {
		at = l.capAt
	}
	return at, true
}

// Due moves to Locking when a timer has expired at now.
func (l *LockDelay) Due(now time.Time) bool {
	at, ok := l.Next()
	if !ok || now.Before(at) {
		return false
	}
	l.state = LockLocking
	l.idle.Cancel()
	return true
}

// Lock marks the piece as merged.
func (l *LockDelay) Lock() {
	l.state = LockLocked
	l.idle.Cancel()
}

// Reset clears every timer for a new piece or after garbage moved the stack.
func (l *LockDelay) Reset() {
	*l = LockDelay{inactivity: l.inactivity, hardCap: l.hardCap}
}

// Package attack computes outgoing garbage and tracks incoming garbage.
package attack

// Spin classifies a T-piece lock.
type Spin int

const (
	SpinNone Spin = iota
	SpinMini
	SpinFull
)

func (s Spin) String() string {
	switch s {
	case SpinMini:
		return "mini"
	case SpinFull:
		return "full"
	default:
		return "none"
	}
}

// PerfectClearGarbage is sent, and nothing else, when a clear empties the stage.
const PerfectClearGarbage = 10

var (
	lineGarbage  = [...]int{0, 0, 1, 2, 4}
	tSpinGarbage = [...]int{0, 2, 4, 6}
	miniGarbage  = [...]int{0, 0, 1}
)

var comboSteps = []struct{ min, bonus int }{
	{9, 5},
	{7, 4},
	{5, 3},
	{3, 2},
	{2, 1},
}

// Qualifies reports whether a clear keeps back-to-back alive.
func Qualifies(lines int, spin Spin) bool {
	return lines >= 4 || (lines > 0 && spin != SpinNone)
}

// ComboBonus is the extra garbage for a combo count that already includes the
// current clear.
func ComboBonus(combo int) int {
	for _, s := range comboSteps {
		if combo >= s.min {
			return s.bonus
		}
	}
	return 0
}

// Calc returns the garbage sent by a clear. combo and b2b are the counters as
// they stood before this clear. A perfect clear sends a flat amount with no
// back-to-back or combo bonus.
func Calc(lines int, spin Spin, perfectClear bool, combo, b2b int) int {
	if lines <= 0 {
		return 0
	}
	if perfectClear {
		return PerfectClearGarbage
	}
	base := 0
	switch {
	case spin == SpinFull:
		base = tSpinGarbage[clamp(lines, len(tSpinGarbage)-1)]
	case spin == SpinMini:
		base = miniGarbage[clamp(lines, len(miniGarbage)-1)]
	default:
		base = lineGarbage[clamp(lines, len(lineGarbage)-1)]
	}
	if Qualifies(lines, spin) && b2b >= 1 {
		base++
	}
	return base + ComboBonus(combo+1)
}

func clamp(n, max int) int {
	if n > max {
		return max
	}
	return n
}

// Tracker holds the combo and back-to-back counters across locks.
type Tracker struct {
	Combo int
	B2B   int
}

// Record scores a lock and advances the counters. Any lock that does not
// qualify resets back-to-back, including locks that clear nothing.
func (t *Tracker) Record(lines int, spin Spin, perfectClear bool) int {
	sent := Calc(lines, spin, perfectClear, t.Combo, t.B2B)
	if lines > 0 {
		t.Combo++
	} else {
		t.Combo = 0
	}
	if Qualifies(lines, spin) {
		t.B2B++
	} else {
		t.B2B = 0
	}
	return sent
}

func (t *Tracker) Reset() {
	t.Combo = 0
	t.B2B = 0
}

package attack

import "testing"

func TestCalc(t *testing.T) {
	cases := []struct {
		name  string
		lines int
		spin  Spin
		pc    bool
		combo int
		b2b   int
		want  int
	}{
		{"no clear", 0, SpinNone, false, 4, 3, 0},
		{"single", 1, SpinNone, false, 0, 0, 0},
		{"double", 2, SpinNone, false, 0, 0, 1},
		{"triple", 3, SpinNone, false, 0, 0, 2},
		{"tetris", 4, SpinNone, false, 0, 0, 4},
		{"tetris b2b", 4, SpinNone, false, 0, 1, 5},
		{"tspin single", 1, SpinFull, false, 0, 0, 2},
		{"tspin double", 2, SpinFull, false, 0, 0, 4},
		{"tspin triple", 3, SpinFull, false, 0, 0, 6},
		{"mini single", 1, SpinMini, false, 0, 0, 0},
		{"mini double", 2, SpinMini, false, 0, 0, 1},
		{"perfect clear", 1, SpinNone, true, 0, 0, 10},
		{"perfect clear ignores b2b and combo", 4, SpinNone, true, 8, 2, 10},
		{"tspin perfect clear", 2, SpinFull, true, 3, 1, 10},
		{"second in combo", 1, SpinNone, false, 1, 0, 1},
		{"long combo", 1, SpinNone, false, 8, 0, 5},
		{"single does not use b2b", 1, SpinNone, false, 0, 3, 0},
	}
	for _, c := range cases {
		if got := Calc(c.lines, c.spin, c.pc, c.combo, c.b2b); got != c.want {
			t.Fatalf("%s: got %d want %d", c.name, got, c.want)
		}
	}
}

func TestComboBonusSteps(t *testing.T) {
	want := map[int]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 6: 3, 7: 4, 8: 4, 9: 5, 20: 5}
	for combo, bonus := range want {
		if got := ComboBonus(combo); got != bonus {
			t.Fatalf("combo %d: got %d want %d", combo, got, bonus)
		}
	}
}

func TestTrackerCounters(t *testing.T) {
	var tr Tracker
	if got := tr.Record(4, SpinNone, false); got != 4 {
		t.Fatalf("first tetris: %d", got)
	}
	if got := tr.Record(4, SpinNone, false); got != 6 {
		t.Fatalf("b2b tetris with combo: %d", got)
	}
	if tr.Combo != 2 || tr.B2B != 2 {
		t.Fatalf("counters %+v", tr)
	}
	tr.Record(0, SpinNone, false)
	if tr.Combo != 0 || tr.B2B != 0 {
		t.Fatalf("a non-clearing lock should reset both counters, got %+v", tr)
	}
	tr.Record(2, SpinFull, false)
	tr.Record(1, SpinNone, false)
	if tr.B2B != 0 || tr.Combo != 2 {
		t.Fatalf("plain single breaks b2b but keeps combo, got %+v", tr)
	}
	if got := tr.Record(4, SpinNone, true); got != PerfectClearGarbage {
		t.Fatalf("perfect clear sent %d", got)
	}
	if tr.Combo != 3 || tr.B2B != 1 {
		t.Fatalf("perfect clear still advances the counters, got %+v", tr)
	}
}

package match

import (
	"testing"
	"time"

	"github.com/hersh/duotris/internal/game"
)

var t0 = time.Unix(1_700_000_000, 0)

func sec(n int) time.Duration { return time.Duration(n) * time.Second }

func testOptions() Options {
	return Options{
		Self:             "me",
		BestOf:           3,
		AnnounceInterval: sec(2),
		Countdown:        3,
		AFKTimeout:       sec(300),
		HeartbeatGrace:   sec(5),
		ReconnectWindow:  sec(5),
		AutoExit:         sec(60),
	}
}

func find[T Command](cmds []Command) (T, bool) {
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// playing returns an orchestrator that has just started game 1 at t0+3s.
func playing(t *testing.T) *Orchestrator {
	t.Helper()
	return playingWith(t, testOptions())
}

func playingWith(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(opts)
	o.Found(t0, "room", "them", true, 3)
	o.Start(t0, 1, 99, []string{"T"})
	o.Tick(t0.Add(sec(3)))
	if o.State() != StatePlaying {
		t.Fatalf("setup: expected playing, got %s", o.State())
	}
	return o
}

func TestBestOf(t *testing.T) {
	cases := map[int][2]int{
		0: {1, 1},
		1: {1, 1},
		3: {3, 2},
		4: {5, 3},
		5: {5, 3},
		7: {7, 4},
	}
	for in, want := range cases {
		if got := NormalizeBestOf(in); got != want[0] {
			t.Fatalf("NormalizeBestOf(%d) = %d, want %d", in, got, want[0])
		}
		if got := WinsRequired(in); got != want[1] {
			t.Fatalf("WinsRequired(%d) = %d, want %d", in, got, want[1])
		}
	}
}

func TestSeriesAdoptReplacesScore(t *testing.T) {
	s := NewSeries(3, "a", "b")
	s.Record("a")
	s.Record("a")
	if !s.Over() || s.CurrentGame != 2 {
		t.Fatalf("expected a to take the series in game 2: %+v", s)
	}
	if s.Adopt(map[string]int{"a": 1, "b": 1}, 3) {
		t.Fatalf("adopted score is not decided: %+v", s)
	}
	if s.Score["a"] != 1 || s.Score["b"] != 1 || s.Winner != "" || s.CurrentGame != 3 {
		t.Fatalf("unexpected series %+v", s)
	}
	if !s.Adopt(map[string]int{"b": 2}, 0) || s.Winner != "b" || s.Score["a"] != 0 {
		t.Fatalf("adopting a deciding score should end the series: %+v", s)
	}
}

func TestSeriesAmend(t *testing.T) {
	s := NewSeries(3, "a", "b")
	s.Record("a")
	if !s.Record("a") {
		t.Fatalf("two wins decide a best of 3")
	}
	if s.Amend("a", "b") || s.Score["a"] != 1 || s.Score["b"] != 1 || s.CurrentGame != 3 {
		t.Fatalf("amended series should be level and continue: %+v", s)
	}
	if s.Amend("a", "a") || s.Score["a"] != 1 {
		t.Fatalf("amending to the same player changes nothing: %+v", s)
	}
	s.Concede("b")
	if s.Adopt(map[string]int{"a": 2}, 3); s.Winner != "b" {
		t.Fatalf("a conceded series keeps its winner: %+v", s)
	}
}

func TestAnnounceUntilFound(t *testing.T) {
	o := NewOrchestrator(testOptions())
	if _, ok := find[Announce](o.Matchmake(t0)); !ok {
		t.Fatalf("expected an immediate announcement")
	}
	if _, ok := find[Announce](o.Tick(t0.Add(sec(1)))); ok {
		t.Fatalf("announced too early")
	}
	if _, ok := find[Announce](o.Tick(t0.Add(sec(2)))); !ok {
		t.Fatalf("expected a repeat announcement")
	}
	o.Found(t0.Add(sec(3)), "room", "them", false, 4)
	if o.Series().BestOf != 5 || o.Host() {
		t.Fatalf("unexpected match setup bestOf=%d host=%v", o.Series().BestOf, o.Host())
	}
	if cmds := o.Tick(t0.Add(sec(10))); len(cmds) != 0 {
		t.Fatalf("announced after pairing: %v", cmds)
	}
}

func TestCountdown(t *testing.T) {
	o := NewOrchestrator(testOptions())
	o.Found(t0, "room", "them", true, 3)
	cmds := o.Start(t0, 1, 7, []string{"I", "O"})
	if tick, ok := find[CountdownTick](cmds); !ok || tick.Value != 3 {
		t.Fatalf("expected countdown 3, got %v", cmds)
	}
	if tick, _ := find[CountdownTick](o.Tick(t0.Add(sec(1)))); tick.Value != 2 {
		t.Fatalf("expected 2, got %d", tick.Value)
	}
	if tick, _ := find[CountdownTick](o.Tick(t0.Add(sec(2)))); tick.Value != 1 {
		t.Fatalf("expected 1, got %d", tick.Value)
	}
	begin, ok := find[BeginGame](o.Tick(t0.Add(sec(3))))
	if !ok || begin.Game != 1 || begin.Seed != 7 || len(begin.Next) != 2 {
		t.Fatalf("expected the game to begin, got %+v", begin)
	}
	if o.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", o.State())
	}
	if cmds := o.Start(t0.Add(sec(4)), 1, 7, nil); len(cmds) != 0 {
		t.Fatalf("duplicate start should be ignored")
	}
}

func TestResolutionIsIdempotent(t *testing.T) {
	o := playing(t)
	now := t0.Add(sec(10))
	res, ok := find[GameResolved](o.LocalTopout(now, game.ReasonBlockOut))
	if !ok || res.Won || res.Winner != "them" || res.Game != 1 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if cmds := o.RemoteTopout(now, game.ReasonLockOut); len(cmds) != 0 {
		t.Fatalf("second verdict applied: %v", cmds)
	}
	if cmds := o.RelayGameOver(now, 1, "them", game.ReasonBlockOut); len(cmds) != 0 {
		t.Fatalf("matching relay verdict should only confirm: %v", cmds)
	}
	if cmds := o.RelayGameOver(now, 1, "me", game.ReasonLockOut); len(cmds) != 0 {
		t.Fatalf("confirmed verdict changed: %v", cmds)
	}
	if o.Series().Score["them"] != 1 || o.Series().Score["me"] != 0 {
		t.Fatalf("score %v", o.Series().Score)
	}
}

func TestSeriesEndsAndAutoExits(t *testing.T) {
	o := playing(t)
	o.RemoteTopout(t0.Add(sec(10)), game.ReasonBlockOut)
	if o.State() != StateGameOver {
		t.Fatalf("expected gameover, got %s", o.State())
	}
	o.Start(t0.Add(sec(15)), 2, 100, nil)
	o.Tick(t0.Add(sec(18)))
	cmds := o.RemoteTopout(t0.Add(sec(30)), game.ReasonBlockOut)
	dec, ok := find[SeriesDecided](cmds)
	if !ok || !dec.Won || dec.Score["me"] != 2 {
		t.Fatalf("expected a series win, got %v", cmds)
	}
	if o.State() != StateSeriesOver {
		t.Fatalf("expected seriesover, got %s", o.State())
	}
	if _, ok := find[Exit](o.Tick(t0.Add(sec(89)))); ok {
		t.Fatalf("exited early")
	}
	if ex, ok := find[Exit](o.Tick(t0.Add(sec(90)))); !ok || ex.Reason != ReasonDone {
		t.Fatalf("expected auto exit")
	}
	if o.State() != StateExited {
		t.Fatalf("expected exited, got %s", o.State())
	}
}

func TestAFKForfeits(t *testing.T) {
	o := playing(t)
	o.Heartbeat(t0.Add(sec(200)))
	o.Input(t0.Add(sec(100)))
	for s := 5; s < 400; s += 4 {
		o.Heartbeat(t0.Add(sec(s)))
	}
	cmds := o.Tick(t0.Add(sec(400)))
	if f, ok := find[ForfeitLocal](cmds); !ok || f.Reason != game.ReasonAFK {
		t.Fatalf("expected afk forfeit, got %v", cmds)
	}
	if res, ok := find[GameResolved](cmds); !ok || res.Winner != "them" {
		t.Fatalf("expected a loss, got %v", cmds)
	}
}

func TestDisconnectWindow(t *testing.T) {
	o := playing(t)
	start := t0.Add(sec(3))

	cmds := o.Tick(start.Add(sec(5)))
	if d, ok := find[DisconnectCountdown](cmds); !ok || d.Remaining != 5 {
		t.Fatalf("expected 5s reconnect window, got %v", cmds)
	}
	if d, _ := find[DisconnectCountdown](o.Tick(start.Add(sec(7)))); d.Remaining != 3 {
		t.Fatalf("expected 3s left, got %d", d.Remaining)
	}
	cmds = o.Tick(start.Add(sec(10)))
	res, ok := find[GameResolved](cmds)
	if !ok || !res.Won || res.Reason != game.ReasonDisconnect {
		t.Fatalf("expected a win by disconnect, got %v", cmds)
	}
}

func TestHeartbeatCancelsDisconnect(t *testing.T) {
	o := playing(t)
	start := t0.Add(sec(3))
	o.Tick(start.Add(sec(6)))
	if d, ok := find[DisconnectCountdown](o.Heartbeat(start.Add(sec(7)))); !ok || d.Remaining != 0 {
		t.Fatalf("heartbeat should clear the countdown")
	}
	if _, ok := find[GameResolved](o.Tick(start.Add(sec(11)))); ok {
		t.Fatalf("resolved despite heartbeat")
	}
}

func TestRelayScoreDecidesSeries(t *testing.T) {
	o := playing(t)
	cmds := o.SeriesUpdate(t0.Add(sec(20)), map[string]int{"them": 2}, 3)
	dec, ok := find[SeriesDecided](cmds)
	if !ok || dec.Won || dec.Winner != "them" {
		t.Fatalf("expected a series loss, got %v", cmds)
	}
}

func TestLeave(t *testing.T) {
	o := playing(t)
	if ex, ok := find[Exit](o.Leave(t0.Add(sec(5)))); !ok || ex.Reason != ReasonLeft {
		t.Fatalf("expected exit")
	}
	if cmds := o.Leave(t0.Add(sec(6))); len(cmds) != 0 {
		t.Fatalf("second leave emitted %v", cmds)
	}
}

func TestConcedeEndsSeries(t *testing.T) {
	o := playing(t)
	cmds := o.Concede(t0.Add(sec(8)), "me", ReasonLeft)
	res, ok := find[GameResolved](cmds)
	if !ok || !res.Won || res.Reason != ReasonLeft {
		t.Fatalf("game in progress should go to the remaining player, got %v", cmds)
	}
	dec, ok := find[SeriesDecided](cmds)
	if !ok || !dec.Won || dec.Winner != "me" {
		t.Fatalf("expected a series win, got %v", cmds)
	}
	if o.State() != StateSeriesOver {
		t.Fatalf("state %s", o.State())
	}
	if again := o.Concede(t0.Add(sec(9)), "them", ReasonLeft); len(again) != 0 {
		t.Fatalf("series already decided, got %v", again)
	}
}

func refereed() Options {
	opts := testOptions()
	opts.Refereed = true
	return opts
}

func TestRelayOverturnsPeerVerdict(t *testing.T) {
	o := playingWith(t, refereed())
	o.RemoteTopout(t0.Add(sec(10)), game.ReasonBlockOut)
	o.RelayGameOver(t0.Add(sec(10)), 1, "me", game.ReasonBlockOut)
	o.SeriesUpdate(t0.Add(sec(10)), map[string]int{"me": 1, "them": 0}, 2)

	o.Start(t0.Add(sec(13)), 2, 5, nil)
	o.Tick(t0.Add(sec(16)))
	cmds := o.RemoteTopout(t0.Add(sec(30)), game.ReasonBlockOut)
	if _, ok := find[SeriesDecided](cmds); ok {
		t.Fatalf("series decided before the relay confirmed: %v", cmds)
	}
	if o.State() != StateGameOver {
		t.Fatalf("expected gameover while waiting, got %s", o.State())
	}

	res, ok := find[GameResolved](o.RelayGameOver(t0.Add(sec(30)), 2, "them", game.ReasonLockOut))
	if !ok || res.Won || res.Game != 2 || res.Score["me"] != 1 || res.Score["them"] != 1 {
		t.Fatalf("expected game 2 to go to them, got %+v", res)
	}
	if cmds := o.SeriesUpdate(t0.Add(sec(30)), map[string]int{"me": 1, "them": 1}, 3); len(cmds) != 0 {
		t.Fatalf("level series must not be decided: %v", cmds)
	}
	if o.Series().Over() || o.Series().CurrentGame != 3 {
		t.Fatalf("unexpected series %+v", o.Series())
	}
	if tick, ok := find[CountdownTick](o.Start(t0.Add(sec(33)), 3, 6, nil)); !ok || tick.Value != 3 || o.Game() != 3 {
		t.Fatalf("game 3 should start, got %+v in game %d", tick, o.Game())
	}
}

func TestRelayConfirmsDecidingGame(t *testing.T) {
	o := playingWith(t, refereed())
	o.Series().Record("me")
	o.RemoteTopout(t0.Add(sec(10)), game.ReasonBlockOut)
	if o.State() != StateGameOver {
		t.Fatalf("expected to wait for the relay, got %s", o.State())
	}
	dec, ok := find[SeriesDecided](o.RelayGameOver(t0.Add(sec(11)), 1, "me", game.ReasonBlockOut))
	if !ok || !dec.Won || dec.Score["me"] != 2 {
		t.Fatalf("confirmation should decide the series, got %+v", dec)
	}
}

func TestUnconfirmedDecisionStandsAfterGrace(t *testing.T) {
	o := playingWith(t, refereed())
	o.Series().Record("them")
	o.LocalTopout(t0.Add(sec(10)), game.ReasonBlockOut)
	if _, ok := find[SeriesDecided](o.Tick(t0.Add(sec(14)))); ok {
		t.Fatalf("decided before the grace period ran out")
	}
	dec, ok := find[SeriesDecided](o.Tick(t0.Add(sec(15))))
	if !ok || dec.Won || dec.Winner != "them" {
		t.Fatalf("expected a series loss, got %+v", dec)
	}
}

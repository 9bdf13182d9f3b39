// Package match runs a best-of-N series between two players.
package match

// NormalizeBestOf forces a positive odd game count. Even values round up.
func NormalizeBestOf(n int) int {
	if n < 1 {
		return 1
	}
	if n%2 == 0 {
		return n + 1
	}
	return n
}

// WinsRequired is the number of wins that decides a series.
func WinsRequired(bestOf int) int {
	return NormalizeBestOf(bestOf)/2 + 1
}

// Series keeps score. CurrentGame is 1-based: the game being played, or the
// deciding game once the series is over.
type Series struct {
	BestOf       int
	WinsRequired int
	Score        map[string]int
	CurrentGame  int
	Winner       string

	conceded bool
}

func NewSeries(bestOf int, players ...string) *Series {
	bestOf = NormalizeBestOf(bestOf)
	s := &Series{
		BestOf:       bestOf,
		WinsRequired: WinsRequired(bestOf),
		Score:        make(map[string]int, len(players)),
		CurrentGame:  1,
	}
	for _, p := range players {
		s.Score[p] = 0
	}
	return s
}

func (s *Series) Over() bool { return s.Winner != "" }

// Record credits winner with the current game and reports whether the series
// is now decided.
func (s *Series) Record(winner string) bool {
	if s.Over() {
		return true
	}
	s.Score[winner]++
	s.settle()
	return s.Over()
}

// Amend moves one game already credited to from over to to.
func (s *Series) Amend(from, to string) bool {
	if from == to || s.conceded || s.Score[from] == 0 {
		return s.Over()
	}
	s.Score[from]--
	s.Score[to]++
	s.settle()
	return s.Over()
}

// Adopt replaces the score with one reported by the referee.
func (s *Series) Adopt(score map[string]int, currentGame int) bool {
	if s.conceded {
		return true
	}
	next := make(map[string]int, len(s.Score))
	for p := range s.Score {
		next[p] = 0
	}
	for p, n := range score {
		next[p] = n
	}
	s.Score = next
	s.settle()
	if currentGame > 0 {
		s.CurrentGame = currentGame
	}
	return s.Over()
}

// Concede ends the series in winner's favour whatever the score.
func (s *Series) Concede(winner string) {
	s.Winner = winner
	s.conceded = true
}

// settle derives the winner and current game from the score.
func (s *Series) settle() {
	played := 0
	s.Winner = ""
	for p, n := range s.Score {
		played += n
		if n >= s.WinsRequired {
			s.Winner = p
		}
	}
	s.CurrentGame = played + 1
	if s.Winner != "" {
		s.CurrentGame = played
	}
}

// Snapshot copies the score map.
func (s *Series) Snapshot() map[string]int {
	out := make(map[string]int, len(s.Score))
	for k, v := range s.Score {
		out[k] = v
	}
	return out
}

package relay

import (
	"sync"
	"time"
)

// Waiting is a player announcing itself for matchmaking.
type Waiting struct {
	ID     string
	Name   string
	Rating int
	BestOf int
	Seen   time.Time

	conn *conn
}

// Pair is the result of a successful match. Host waited longer.
type Pair struct {
	Host  Waiting
	Guest Waiting
}

// Lobby pairs waiting players by closest rating. Players that stop
// announcing are dropped after staleAfter.
type Lobby struct {
	mu         sync.Mutex
	players    map[string]*Waiting
	order      []string
	staleAfter time.Duration
}

func NewLobby(staleAfter time.Duration) *Lobby {
	return &Lobby{
		players:    make(map[string]*Waiting),
		staleAfter: staleAfter,
	}
}

// Announce records w and tries to pair it. A player already waiting only
// has its details refreshed.
func (l *Lobby) Announce(now time.Time, w Waiting) (Pair, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expire(now)
	w.Seen = now
	if p, ok := l.players[w.ID]; ok {
		*p = w
	} else {
		l.players[w.ID] = &w
		l.order = append(l.order, w.ID)
	}

	var best *Waiting
	for _, id := range l.order {
		other := l.players[id]
		if other.ID == w.ID {
			continue
		}
		if best == nil || abs(other.Rating-w.Rating) < abs(best.Rating-w.Rating) {
			best = other
		}
	}
	if best == nil {
		return Pair{}, false
	}
	pair := Pair{Host: *best, Guest: *l.players[w.ID]}
	l.remove(best.ID)
	l.remove(w.ID)
	return pair, true
}

func (l *Lobby) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remove(id)
}

// Expire drops players not seen within the stale window.
func (l *Lobby) Expire(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expire(now)
}

func (l *Lobby) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.players)
}

func (l *Lobby) expire(now time.Time) int {
	if l.staleAfter <= 0 {
		return 0
	}
	n := 0
	for _, id := range append([]string(nil), l.order...) {
		if now.Sub(l.players[id].Seen) > l.staleAfter {
			l.remove(id)
			n++
		}
	}
	return n
}

func (l *Lobby) remove(id string) {
	if _, ok := l.players[id]; !ok {
		return
	}
	delete(l.players, id)
	for i, o := range l.order {
		if o == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

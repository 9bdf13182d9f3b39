package game

import "math/rand"

// Bag produces pieces using the 7-bag randomizer.
// Two bags created with the same seed produce identical sequences.
type Bag struct {
	rng *rand.Rand
	bag []PieceType
}

// NewBag creates a seeded 7-bag generator.
func NewBag(seed int64) *Bag {
	return &Bag{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next piece from the bag.
func (b *Bag) Next() PieceType {
	if len(b.bag) == 0 {
		b.refill()
	}
	t := b.bag[0]
	b.bag = b.bag[1:]
	return t
}

// Take returns the next n pieces.
func (b *Bag) Take(n int) []PieceType {
	out := make([]PieceType, n)
	for i := range out {
		out[i] = b.Next()
	}
	return out
}

func (b *Bag) refill() {
	b.bag = append([]PieceType(nil), Tetrominoes...)
	// Fisher-Yates shuffle
	for i := len(b.bag) - 1; i > 0; i-- {
		j := b.rng.Intn(i + 1)
		b.bag[i], b.bag[j] = b.bag[j], b.bag[i]
	}
}

// PieceNames converts a queue to its wire names.
func PieceNames(ts []PieceType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

// ParsePieces converts wire names back to pieces, skipping anything that is
// not one of the seven tetrominoes.
func ParsePieces(names []string) []PieceType {
	out := make([]PieceType, 0, len(names))
	for _, n := range names {
		t, ok := ParsePieceType(n)
		if !ok || t == PieceNone || t == PieceGarbage {
			continue
		}
		out = append(out, t)
	}
	return out
}

package transport

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultSnapshotInterval = 500 * time.Millisecond
	DefaultFallbackGap      = 100 * time.Millisecond
)

// SnapshotPolicy decides when to publish a board snapshot. With a direct
// link snapshots go out on a fixed interval; over the relay they go out
// whenever the board changed, but no more often than the fallback gap.
type SnapshotPolicy struct {
	interval time.Duration
	limiter  *rate.Limiter
	last     time.Time
	version  uint64
	sent     bool
}

func NewSnapshotPolicy(interval, minGap time.Duration) *SnapshotPolicy {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	if minGap <= 0 {
		minGap = DefaultFallbackGap
	}
	return &SnapshotPolicy{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(minGap), 1),
	}
}

// Due reports whether a snapshot of the given board version should be sent
// now. ready is true while the direct link is up.
func (p *SnapshotPolicy) Due(now time.Time, ready bool, version uint64) bool {
	if ready {
		if p.sent && now.Sub(p.last) < p.interval {
			return false
		}
	} else {
		if p.sent && version == p.version {
			return false
		}
		if !p.limiter.AllowN(now, 1) {
			return false
		}
	}
	p.last, p.version, p.sent = now, version, true
	return true
}

// Reset forgets what was last sent.
func (p *SnapshotPolicy) Reset() {
	p.sent = false
	p.version = 0
	p.last = time.Time{}
}

package game

import "time"

// Deadline is a timer that is polled instead of firing on its own, so a
// simulation driven by explicit timestamps replays identically.
type Deadline struct {
	at    time.Time
	armed bool
}

func (d *Deadline) Arm(at time.Time) {
	d.at = at
	d.armed = true
}

func (d *Deadline) Cancel() {
	d.armed = false
	d.at = time.Time{}
}

func (d Deadline) Armed() bool   { return d.armed }
func (d Deadline) At() time.Time { return d.at }

// Due reports whether the deadline is armed and not after now.
func (d Deadline) Due(now time.Time) bool {
	return d.armed && !now.Before(d.at)
}

// Remaining is the time left at now, zero once due or when unarmed.
func (d Deadline) Remaining(now time.Time) time.Duration {
	if !d.armed || !now.Before(d.at) {
		return 0
	}
	return d.at.Sub(now)
}

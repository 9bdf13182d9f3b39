package attack

import "time"

// DefaultCancelDelay is how long received garbage stays cancellable.
const DefaultCancelDelay = 500 * time.Millisecond

// Queue holds garbage received from the opponent. New garbage is pending for
// the cancel delay and becomes locked once the delay elapses; locked garbage
// is applied on the next lock that clears nothing.
type Queue struct {
	delay    time.Duration
	amount   int
	locked   bool
	deadline time.Time
	armed    bool
}

func NewQueue(delay time.Duration) *Queue {
	if delay <= 0 {
		delay = DefaultCancelDelay
	}
	return &Queue{delay: delay}
}

// Receive adds lines and restarts the cancel delay.
func (q *Queue) Receive(now time.Time, lines int) {
	if lines <= 0 {
		return
	}
	q.amount += lines
	q.locked = false
	q.deadline = now.Add(q.delay)
	q.armed = true
}

// Cancel offsets outgoing attack against the queue and returns what is left
// of the attack. Cancelling works whether the queue is pending or locked; if
// garbage remains it goes back to pending with a fresh delay.
func (q *Queue) Cancel(now time.Time, attack int) int {
	if attack <= 0 {
		return 0
	}
	if q.amount == 0 {
		return attack
	}
	used := attack
	if used > q.amount {
		used = q.amount
	}
	q.amount -= used
	if q.amount > 0 {
		q.locked = false
		q.deadline = now.Add(q.delay)
		q.armed = true
	} else {
		q.clear()
	}
	return attack - used
}

// Poll locks the queue once the delay has elapsed at now. It reports whether
// the queue changed state.
func (q *Queue) Poll(now time.Time) bool {
	if !q.armed || now.Before(q.deadline) {
		return false
	}
	q.armed = false
	q.locked = true
	return true
}

// Deadline returns when the pending garbage locks.
func (q *Queue) Deadline() (time.Time, bool) {
	return q.deadline, q.armed
}

func (q *Queue) Amount() int  { return q.amount }
func (q *Queue) Locked() bool { return q.locked && q.amount > 0 }

// Consume removes n applied lines. Anything left stays locked.
func (q *Queue) Consume(n int) {
	if n > q.amount {
		n = q.amount
	}
	q.amount -= n
	if q.amount == 0 {
		q.clear()
	}
}

func (q *Queue) Reset() {
	q.amount = 0
	q.clear()
}

func (q *Queue) clear() {
	q.locked = false
	q.armed = false
	q.deadline = time.Time{}
}

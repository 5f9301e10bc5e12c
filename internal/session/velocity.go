package session

import (
	"math/big"
	"time"
)

// velocityEntry is one spend observation in the trailing window
type velocityEntry struct {
	at     time.Time
	amount *big.Int
}

// velocityWindow is a per-session ring buffer summing spends over a
// trailing window. Not safe for concurrent use; the manager's lock
// covers it.
type velocityWindow struct {
	window  time.Duration
	entries []velocityEntry
}

func newVelocityWindow(window time.Duration) *velocityWindow {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &velocityWindow{window: window}
}

// sum returns the total spend within the trailing window, pruning
// entries that have aged out.
func (v *velocityWindow) sum(now time.Time) *big.Int {
	cutoff := now.Add(-v.window)
	keep := v.entries[:0]
	total := new(big.Int)
	for _, e := range v.entries {
		if e.at.Before(cutoff) {
			continue
		}
		keep = append(keep, e)
		total.Add(total, e.amount)
	}
	v.entries = keep
	return total
}

// add records a spend at the given time
func (v *velocityWindow) add(now time.Time, amount *big.Int) {
	v.entries = append(v.entries, velocityEntry{at: now, amount: new(big.Int).Set(amount)})
}

// remove drops the most recent entry matching the amount; used to roll
// back a recorded spend whose downstream submission failed.
func (v *velocityWindow) remove(amount *big.Int) {
	for i := len(v.entries) - 1; i >= 0; i-- {
		if v.entries[i].amount.Cmp(amount) == 0 {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}

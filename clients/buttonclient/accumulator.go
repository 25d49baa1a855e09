package buttonclient

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Accumulator buffers clicks between submissions and enforces the local
// per-second cap. Clicks beyond the cap are dropped on the spot, never
// queued; the rolling window means a burst cannot borrow from the next
// second.
type Accumulator struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	capPerSec int
	recent    []time.Time
	pending   int
	inFlight  int
}

func NewAccumulator(clock clockwork.Clock, capPerSec int) *Accumulator {
	return &Accumulator{
		clock:     clock,
		capPerSec: capPerSec,
	}
}

// Click records one click. Returns false when the rolling-second cap
// swallowed it.
func (a *Accumulator) Click() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.prune(now)
	if len(a.recent) >= a.capPerSec {
		return false
	}
	a.recent = append(a.recent, now)
	a.pending++
	return true
}

// TakeBatch moves up to max pending clicks into the in-flight slot and
// returns how many it took.
func (a *Accumulator) TakeBatch(max int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.pending
	if n > max {
		n = max
	}
	a.pending -= n
	a.inFlight += n
	return n
}

// AckBatch discards n in-flight clicks after the server accepted them, or
// after a terminal rejection where resubmitting would be wrong.
func (a *Accumulator) AckBatch(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inFlight -= n
	if a.inFlight < 0 {
		a.inFlight = 0
	}
}

// ReturnBatch puts n in-flight clicks back into the pending buffer after a
// retryable failure. The clicks stay counted in UnsyncedDelta throughout.
func (a *Accumulator) ReturnBatch(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inFlight -= n
	if a.inFlight < 0 {
		n += a.inFlight
		a.inFlight = 0
	}
	a.pending += n
}

// Pending is the number of clicks waiting for the next batch.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// UnsyncedDelta is every local click the server has not confirmed yet,
// pending plus in-flight. The display layer adds it to the server total so
// the clicker sees their own clicks immediately.
func (a *Accumulator) UnsyncedDelta() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending + a.inFlight
}

func (a *Accumulator) prune(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(a.recent) && !a.recent[i].After(cutoff) {
		i++
	}
	a.recent = a.recent[i:]
}

package reconos

import (
	"sync/atomic"

	"github.com/creachadair/reconos/code"
	"golang.org/x/sync/semaphore"
)

// signalsPerPipe is the number of binary signals owned by each pipe.
const signalsPerPipe = 2

// A Budget bounds the number of binary signals that may be allocated to live
// pipes, standing in for the platform limit on semaphore objects. A nil
// *Budget is unlimited. The methods of a *Budget are safe for concurrent use.
type Budget struct {
	sem  *semaphore.Weighted
	max  int64
	used atomic.Int64
}

// NewBudget returns a budget that allows at most n signals to be allocated
// at once. Each pipe uses two.
func NewBudget(n int64) *Budget {
	return &Budget{sem: semaphore.NewWeighted(n), max: n}
}

// InUse reports the number of signals currently allocated from b.
func (b *Budget) InUse() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}

// Cap reports the total number of signals b allows, or -1 if b is unlimited.
func (b *Budget) Cap() int64 {
	if b == nil {
		return -1
	}
	return b.max
}

// take allocates n signals one at a time, so that a shortfall is detected at
// the signal that could not be had. On failure any signals already taken are
// returned and b is unchanged.
func (b *Budget) take(n int64) error {
	if b == nil {
		return nil
	}
	for i := int64(0); i < n; i++ {
		if !b.sem.TryAcquire(1) {
			if i > 0 {
				b.sem.Release(i)
				b.used.Add(-i)
			}
			return Errorf(code.ResourceExhausted, "NewPipe",
				"cannot allocate signal %d of %d (%d of %d in use)", i+1, n, b.used.Load(), b.max)
		}
		b.used.Add(1)
	}
	return nil
}

func (b *Budget) give(n int64) {
	if b != nil {
		b.used.Add(-n)
		b.sem.Release(n)
	}
}

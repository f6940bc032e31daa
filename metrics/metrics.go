// Package metrics defines a concurrently-accessible collector for transfer
// statistics.
//
// A *metrics.M tracks integer counters and maximum values. A metric has a
// caller-assigned string name that is not interpreted by the collector except
// to locate its stored value. The pipes in package reconos use the names
// exported by this package; callers may add their own.
package metrics

import "sync"

// Metric names recorded by pipes.
const (
	Transfers    = "transfers"     // completed hand-offs
	Bytes        = "bytes"         // bytes copied into consumer buffers
	Truncated    = "truncated"     // transfers shorter than the producer's offer
	Exact        = "exact"         // transfers where the offer fit the capacity
	TransferSize = "transfer_size" // largest single transfer (max value)
	Cancelled    = "cancelled"     // waits abandoned by context
	Aborted      = "aborted"       // reservations given up by Abort
)

// An M collects counters and maximum value trackers.  A nil *M is valid, and
// discards all metrics. The methods of an *M are safe for concurrent use by
// multiple goroutines.
type M struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
}

// New creates a new, empty metrics collector.
func New() *M {
	return &M{counter: make(map[string]int64), maxVal: make(map[string]int64)}
}

// Count adds n to the current value of the counter named, defining the counter
// if it does not already exist.
func (m *M) Count(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.counter[name] += n
	}
}

// SetMaxValue sets the maximum value metric named to the greater of n and its
// current value, defining the value if it does not already exist.
func (m *M) SetMaxValue(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n > m.maxVal[name] {
			m.maxVal[name] = n
		}
	}
}

// RecordTransfer accounts for one completed hand-off of n bytes out of an
// offer of size offered, in a single step.
func (m *M) RecordTransfer(n, offered int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter[Transfers]++
	m.counter[Bytes] += int64(n)
	if n < offered {
		m.counter[Truncated]++
	} else {
		m.counter[Exact]++
	}
	if int64(n) > m.maxVal[TransferSize] {
		m.maxVal[TransferSize] = int64(n)
	}
}

// Counter returns the current value of the named counter, or 0.
func (m *M) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter[name]
}

// Snapshot copies an atomic snapshot of the counters and max value trackers
// into the provided non-nil maps.
func (m *M) Snapshot(counters, maxValues map[string]int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for name, val := range m.counter {
			counters[name] = val
		}
		for name, val := range m.maxVal {
			maxValues[name] = val
		}
	}
}

// Package proc provides access to the ReconOS proc-control device, which
// manages the hardware threads of a platform: reset and signal lines, the
// memory management unit shared by the threads, and the interconnect.
package proc

import (
	"errors"
	"fmt"
	"sync"
)

// DevicePath is the default location of the proc-control character device.
const DevicePath = "/dev/reconos-proc-control"

// Control is the interface to the proc-control device.
type Control interface {
	// NumHWTs reports the number of hardware thread slots in the fabric.
	NumHWTs() (int, error)

	// TLBHits and TLBMisses report the MMU translation counters.
	TLBHits() (int, error)
	TLBMisses() (int, error)

	// FaultAddr reports the address of the last page fault taken by a
	// hardware thread, and ClearPageFault acknowledges it.
	FaultAddr() (uint32, error)
	ClearPageFault() error

	// SetPGD points the MMU at the page directory of the calling process.
	SetPGD() error

	// SysReset resets every hardware thread and the MMU.
	SysReset() error

	// ResetHWT asserts (on == true) or releases the reset line of thread n.
	ResetHWT(n int, on bool) error

	// SignalHWT asserts or clears the signal line of thread n.
	SignalHWT(n int, on bool) error

	// CacheFlush flushes the fabric cache on boards that have one.
	CacheFlush() error

	// SetICSignal, ICReady and SetICReset drive the interconnect handshake
	// used while a slot is reconfigured.
	SetICSignal(on bool) error
	ICReady() (bool, error)
	SetICReset(on bool) error

	// Close releases the device.
	Close() error
}

// ErrNoSuchThread is reported for a hardware thread index out of range.
var ErrNoSuchThread = errors.New("proc: no such hardware thread")

// Status is a snapshot of the fault and translation registers.
type Status struct {
	NumHWTs   int    `json:"num_hwts"`
	TLBHits   int    `json:"tlb_hits"`
	TLBMisses int    `json:"tlb_misses"`
	FaultAddr uint32 `json:"fault_addr"`
	ICReady   bool   `json:"ic_ready"`
}

// Faulted reports whether s records a pending page fault.
func (s Status) Faulted() bool { return s.FaultAddr != 0 }

func (s Status) String() string {
	return fmt.Sprintf("hwts=%d tlb=%d/%d fault=%#08x ic_ready=%v",
		s.NumHWTs, s.TLBHits, s.TLBMisses, s.FaultAddr, s.ICReady)
}

// ReadStatus reads a Status snapshot from ctl.
func ReadStatus(ctl Control) (Status, error) {
	var s Status
	var err error
	if s.NumHWTs, err = ctl.NumHWTs(); err != nil {
		return s, err
	}
	if s.TLBHits, err = ctl.TLBHits(); err != nil {
		return s, err
	}
	if s.TLBMisses, err = ctl.TLBMisses(); err != nil {
		return s, err
	}
	if s.FaultAddr, err = ctl.FaultAddr(); err != nil {
		return s, err
	}
	if s.ICReady, err = ctl.ICReady(); err != nil {
		return s, err
	}
	return s, nil
}

// Sim is an in-memory Control for tests and dry runs. Its fields may be set
// directly before use; the methods are safe for concurrent use.
type Sim struct {
	mu sync.Mutex

	HWTs      int
	Hits      int
	Misses    int
	Fault     uint32
	ICRdy     bool
	Resets    []bool // reset line per thread
	Signals   []bool // signal line per thread
	SysResets int    // number of calls to SysReset
	PGDSet    bool
	Flushes   int
	ICSig     bool
	ICRst     bool
	Closed    bool
}

// NewSim returns a Sim with n hardware threads, all held in reset.
func NewSim(n int) *Sim {
	s := &Sim{HWTs: n, Resets: make([]bool, n), Signals: make([]bool, n)}
	for i := range s.Resets {
		s.Resets[i] = true
	}
	return s
}

func (s *Sim) locked(f func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f()
}

func (s *Sim) NumHWTs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HWTs, nil
}

func (s *Sim) TLBHits() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Hits, nil
}

func (s *Sim) TLBMisses() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Misses, nil
}

func (s *Sim) FaultAddr() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fault, nil
}

func (s *Sim) ClearPageFault() error {
	return s.locked(func() error { s.Fault = 0; return nil })
}

func (s *Sim) SetPGD() error {
	return s.locked(func() error { s.PGDSet = true; return nil })
}

func (s *Sim) SysReset() error {
	return s.locked(func() error {
		s.SysResets++
		s.Fault = 0
		for i := range s.Resets {
			s.Resets[i] = true
			s.Signals[i] = false
		}
		return nil
	})
}

func (s *Sim) ResetHWT(n int, on bool) error {
	return s.locked(func() error {
		if n < 0 || n >= len(s.Resets) {
			return fmt.Errorf("%w: %d", ErrNoSuchThread, n)
		}
		s.Resets[n] = on
		return nil
	})
}

func (s *Sim) SignalHWT(n int, on bool) error {
	return s.locked(func() error {
		if n < 0 || n >= len(s.Signals) {
			return fmt.Errorf("%w: %d", ErrNoSuchThread, n)
		}
		s.Signals[n] = on
		return nil
	})
}

func (s *Sim) CacheFlush() error {
	return s.locked(func() error { s.Flushes++; return nil })
}

func (s *Sim) SetICSignal(on bool) error {
	return s.locked(func() error { s.ICSig = on; return nil })
}

func (s *Sim) ICReady() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ICRdy, nil
}

func (s *Sim) SetICReset(on bool) error {
	return s.locked(func() error { s.ICRst = on; return nil })
}

func (s *Sim) Close() error {
	return s.locked(func() error { s.Closed = true; return nil })
}

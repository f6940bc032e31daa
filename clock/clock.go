// Package clock programs the clock managers that drive the hardware threads.
//
// Each clock manager occupies a window of registers in a memory-mapped region,
// one register per output clock. A register holds the divider of its clock
// encoded as high and low half-periods in units of the input clock.
package clock

import (
	"errors"
	"fmt"
)

// Register layout.
const (
	EdgeBit  = 0x00800000 // shift the output by half an input period
	CountBit = 0x00400000 // bypass the counters (divider 1)

	halfMask = 0x3f
)

// Valid divider range.
const (
	MinDivider = 1
	MaxDivider = 126
)

// Memory layout of the clock managers.
const (
	BaseAddr    = 0x69E00000 // physical base of the clock region
	RegionSize  = 0x10000    // size of the clock region in bytes
	WindowBytes = 0x20       // bytes per clock manager
	WindowRegs  = WindowBytes / 4
)

// ErrDividerRange is reported for a divider outside [MinDivider, MaxDivider].
var ErrDividerRange = errors.New("clock: divider out of range")

func high(t uint32) uint32 { return (t & halfMask) << 6 }
func low(t uint32) uint32  { return (t & halfMask) << 0 }

// Encode returns the register value for divider div. An even divider splits
// the period evenly; an odd divider makes the low half one longer and sets
// the edge bit; a divider of 1 selects the bypass mode.
func Encode(div int) (uint32, error) {
	if div < MinDivider || div > MaxDivider {
		return 0, fmt.Errorf("%w: %d", ErrDividerRange, div)
	}
	d := uint32(div)
	switch {
	case d == 1:
		return EdgeBit | CountBit | low(1), nil
	case d%2 == 0:
		return high(d/2) | low(d/2), nil
	default:
		return EdgeBit | high(d/2) | low(d/2+1), nil
	}
}

// Decode recovers the divider from a register value produced by Encode.
func Decode(reg uint32) int {
	if reg&CountBit != 0 {
		return 1
	}
	return int((reg>>6)&halfMask + reg&halfMask)
}

// Registers is a bank of 32-bit device registers addressed by word index.
type Registers interface {
	Store(index int, v uint32)
	Load(index int) uint32
	Len() int
}

// A Manager is one clock manager, controlling WindowRegs output clocks.
type Manager struct {
	index int
	regs  Registers
}

// Open returns the clock manager at index within regs.
func Open(regs Registers, index int) (*Manager, error) {
	if index < 0 || (index+1)*WindowRegs > regs.Len() {
		return nil, fmt.Errorf("clock: no manager %d", index)
	}
	return &Manager{index: index, regs: regs}, nil
}

// Index reports the index of m.
func (m *Manager) Index() int { return m.index }

// SetDivider sets the divider of output clock clk. It reports an error
// without touching the hardware if clk or div is out of range.
func (m *Manager) SetDivider(clk, div int) error {
	if clk < 0 || clk >= WindowRegs {
		return fmt.Errorf("clock %d: no output %d", m.index, clk)
	}
	reg, err := Encode(div)
	if err != nil {
		return fmt.Errorf("clock %d: %w", m.index, err)
	}
	m.regs.Store(m.index*WindowRegs+clk, reg)
	return nil
}

// Divider reports the divider currently programmed for output clk.
func (m *Manager) Divider(clk int) (int, error) {
	if clk < 0 || clk >= WindowRegs {
		return 0, fmt.Errorf("clock %d: no output %d", m.index, clk)
	}
	return Decode(m.regs.Load(m.index*WindowRegs + clk)), nil
}

// MemRegisters is an in-memory Registers, for tests and dry runs.
type MemRegisters []uint32

// NewMemRegisters returns a zeroed bank of n registers.
func NewMemRegisters(n int) MemRegisters { return make(MemRegisters, n) }

func (m MemRegisters) Store(i int, v uint32) { m[i] = v }
func (m MemRegisters) Load(i int) uint32     { return m[i] }
func (m MemRegisters) Len() int              { return len(m) }

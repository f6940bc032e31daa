//go:build linux

package clock

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mapped is a Registers backed by a shared mapping of device memory.
type Mapped struct {
	mem  []byte
	regs []uint32
}

// MapRegisters maps size bytes of path (normally /dev/mem) starting at offset
// base. The file is closed once the mapping is established.
func MapRegisters(path string, base int64, size int) (*Mapped, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("clock: open %s: %w", path, err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("clock: mmap %#x+%#x: %w", base, size, err)
	}
	return &Mapped{
		mem:  mem,
		regs: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), len(mem)/4),
	}, nil
}

// Store writes v to register i.
func (m *Mapped) Store(i int, v uint32) { atomic.StoreUint32(&m.regs[i], v) }

// Load reads register i.
func (m *Mapped) Load(i int) uint32 { return atomic.LoadUint32(&m.regs[i]) }

// Len reports the number of registers mapped.
func (m *Mapped) Len() int { return len(m.regs) }

// Close unmaps the registers.
func (m *Mapped) Close() error {
	m.regs = nil
	return unix.Munmap(m.mem)
}

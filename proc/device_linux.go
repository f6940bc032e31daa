//go:build linux

package proc

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/creachadair/reconos/internal/ioctl"
)

const procMagic = 'k'

var sizeofInt = unsafe.Sizeof(uint32(0))

// Request numbers of the proc-control driver.
var (
	ioctlGetNumHWTs      = ioctl.IOR(procMagic, 0x10, sizeofInt)
	ioctlGetTLBHits      = ioctl.IOR(procMagic, 0x11, sizeofInt)
	ioctlGetTLBMisses    = ioctl.IOR(procMagic, 0x12, sizeofInt)
	ioctlGetFaultAddr    = ioctl.IOR(procMagic, 0x13, sizeofInt)
	ioctlClearPageFault  = ioctl.IO(procMagic, 0x14)
	ioctlSetPGDAddr      = ioctl.IO(procMagic, 0x15)
	ioctlSysReset        = ioctl.IO(procMagic, 0x16)
	ioctlSetHWTReset     = ioctl.IOW(procMagic, 0x17, sizeofInt)
	ioctlClearHWTReset   = ioctl.IOW(procMagic, 0x18, sizeofInt)
	ioctlSetHWTSignal    = ioctl.IOW(procMagic, 0x19, sizeofInt)
	ioctlClearHWTSignal  = ioctl.IOW(procMagic, 0x1a, sizeofInt)
	ioctlCacheFlush      = ioctl.IO(procMagic, 0x1b)
	ioctlSetICSig        = ioctl.IOW(procMagic, 0x1c, sizeofInt)
	ioctlGetICRdy        = ioctl.IOR(procMagic, 0x1d, sizeofInt)
	ioctlSetICRst        = ioctl.IOW(procMagic, 0x1e, sizeofInt)
)

// A Device is a Control attached to the proc-control character device.
type Device struct {
	f *os.File

	// Set if the board has a fabric cache that needs explicit flushing.
	HasCache bool
}

// Open opens the proc-control device at path.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("proc: open control: %w", err)
	}
	return &Device{f: f}, nil
}

func (d *Device) get(name string, req uintptr) (uint32, error) {
	v, err := ioctl.GetUint32(d.f.Fd(), req)
	if err != nil {
		return 0, fmt.Errorf("proc: %s: %w", name, err)
	}
	return v, nil
}

func (d *Device) set(name string, req uintptr, v uint32) error {
	if err := ioctl.SetUint32(d.f.Fd(), req, v); err != nil {
		return fmt.Errorf("proc: %s: %w", name, err)
	}
	return nil
}

func (d *Device) call(name string, req uintptr) error {
	if err := ioctl.Call(d.f.Fd(), req); err != nil {
		return fmt.Errorf("proc: %s: %w", name, err)
	}
	return nil
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (d *Device) NumHWTs() (int, error) {
	v, err := d.get("get num hwts", ioctlGetNumHWTs)
	return int(v), err
}

func (d *Device) TLBHits() (int, error) {
	v, err := d.get("get tlb hits", ioctlGetTLBHits)
	return int(v), err
}

func (d *Device) TLBMisses() (int, error) {
	v, err := d.get("get tlb misses", ioctlGetTLBMisses)
	return int(v), err
}

func (d *Device) FaultAddr() (uint32, error) { return d.get("get fault addr", ioctlGetFaultAddr) }

func (d *Device) ClearPageFault() error { return d.call("clear page fault", ioctlClearPageFault) }

func (d *Device) SetPGD() error { return d.call("set pgd", ioctlSetPGDAddr) }

func (d *Device) SysReset() error { return d.call("sys reset", ioctlSysReset) }

func (d *Device) ResetHWT(n int, on bool) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNoSuchThread, n)
	}
	if on {
		return d.set("set hwt reset", ioctlSetHWTReset, uint32(n))
	}
	return d.set("clear hwt reset", ioctlClearHWTReset, uint32(n))
}

func (d *Device) SignalHWT(n int, on bool) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNoSuchThread, n)
	}
	if on {
		return d.set("set hwt signal", ioctlSetHWTSignal, uint32(n))
	}
	return d.set("clear hwt signal", ioctlClearHWTSignal, uint32(n))
}

// CacheFlush is a no-op unless d.HasCache is set.
func (d *Device) CacheFlush() error {
	if !d.HasCache {
		return nil
	}
	return d.call("cache flush", ioctlCacheFlush)
}

func (d *Device) SetICSignal(on bool) error { return d.set("set ic sig", ioctlSetICSig, boolWord(on)) }

func (d *Device) ICReady() (bool, error) {
	v, err := d.get("get ic rdy", ioctlGetICRdy)
	return v != 0, err
}

func (d *Device) SetICReset(on bool) error { return d.set("set ic rst", ioctlSetICRst, boolWord(on)) }

func (d *Device) Close() error { return d.f.Close() }

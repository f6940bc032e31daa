//go:build linux

package osif

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/creachadair/reconos/internal/ioctl"
)

const osifMagic = 'k'

var (
	ioctlSetMask = ioctl.IOW(osifMagic, 0x01, unsafe.Sizeof(uint32(0)))
	ioctlSetBits = ioctl.IOW(osifMagic, 0x02, unsafe.Sizeof(uint32(0)))
)

// A Device is a Port attached to the OSIF character device. The control mask
// and bits select which hardware thread slot the device file serves.
type Device struct {
	f *os.File
}

// Open opens the OSIF device at path and selects the slot given by the
// control mask and bits.
func Open(path string, mask, bits uint32) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("osif: open (%#x, %#x): %w", mask, bits, err)
	}
	if err := ioctl.SetUint32(f.Fd(), ioctlSetMask, mask); err != nil {
		f.Close()
		return nil, fmt.Errorf("osif: set mask %#x: %w", mask, err)
	}
	if err := ioctl.SetUint32(f.Fd(), ioctlSetBits, bits); err != nil {
		f.Close()
		return nil, fmt.Errorf("osif: set bits %#x: %w", bits, err)
	}
	return &Device{f: f}, nil
}

// Read implements Port. Words are in host byte order on the device.
func (d *Device) Read(words []uint32) (int, error) {
	buf := make([]byte, 4*len(words))
	n, err := d.f.Read(buf)
	nw := n / 4
	for i := 0; i < nw; i++ {
		words[i] = binary.NativeEndian.Uint32(buf[4*i:])
	}
	return nw, err
}

// Write implements Port.
func (d *Device) Write(words []uint32) (int, error) {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.NativeEndian.PutUint32(buf[4*i:], w)
	}
	n, err := d.f.Write(buf)
	return n / 4, err
}

// Close implements Port.
func (d *Device) Close() error { return d.f.Close() }

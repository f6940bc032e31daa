//go:build linux

package ioctl

import "golang.org/x/sys/unix"

// Call issues req on fd with no argument.
func Call(fd uintptr, req uintptr) error {
	if _, err := unix.IoctlRetInt(int(fd), uint(req)); err != nil {
		return &Error{Req: req, Err: err}
	}
	return nil
}

// SetUint32 issues req on fd with a pointer to v as its argument.
func SetUint32(fd uintptr, req uintptr, v uint32) error {
	if err := unix.IoctlSetPointerInt(int(fd), uint(req), int(int32(v))); err != nil {
		return &Error{Req: req, Err: err}
	}
	return nil
}

// GetUint32 issues req on fd and returns the value the driver stores through
// its pointer argument.
func GetUint32(fd uintptr, req uintptr) (uint32, error) {
	v, err := unix.IoctlGetUint32(int(fd), uint(req))
	if err != nil {
		return 0, &Error{Req: req, Err: err}
	}
	return v, nil
}

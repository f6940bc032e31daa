// Package ioctl encodes Linux ioctl request numbers and issues requests
// against the ReconOS character devices.
package ioctl

import (
	"fmt"

	"github.com/creachadair/reconos/code"
)

// An Error reports a request the driver rejected. Its code is
// code.DeviceError.
type Error struct {
	Req uintptr // the request number
	Err error   // the underlying system error
}

func (e *Error) Error() string {
	_, typ, nr, _ := Decode(e.Req)
	return fmt.Sprintf("ioctl %q/%#x: %v", rune(typ), nr, e.Err)
}

// Unwrap returns the underlying system error.
func (e *Error) Unwrap() error { return e.Err }

// Code satisfies code.Coder.
func (e *Error) Code() code.Code { return code.DeviceError }

// Request numbers use the generic Linux layout:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
const (
	dirNone  = 0
	dirWrite = 1
	dirRead  = 2

	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// ioc constructs an ioctl number from direction, type, number, and size.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << dirShift) | (typ << typeShift) | (nr << nrShift) | (size << sizeShift)
}

// IO constructs an ioctl number with no data transfer.
func IO(typ, nr uintptr) uintptr { return ioc(dirNone, typ, nr, 0) }

// IOR constructs a read ioctl number.
func IOR(typ, nr, size uintptr) uintptr { return ioc(dirRead, typ, nr, size) }

// IOW constructs a write ioctl number.
func IOW(typ, nr, size uintptr) uintptr { return ioc(dirWrite, typ, nr, size) }

// Decode splits an ioctl number into its fields.
func Decode(req uintptr) (dir, typ, nr, size uintptr) {
	return (req >> dirShift) & (1<<2 - 1),
		(req >> typeShift) & (1<<typeBits - 1),
		(req >> nrShift) & (1<<nrBits - 1),
		(req >> sizeShift) & (1<<sizeBits - 1)
}

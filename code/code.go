// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package code defines error code values used by the reconos packages.
package code

import (
	"context"
	"errors"
	"fmt"
)

// A Code is an error category code.
//
// Code values from and including -32768 to -32000 are reserved for the codes
// pre-defined by this package. The remainder of the space is available for
// application defined errors, see Register.
type Code int32

func (c Code) String() string {
	if s, ok := stdError[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", c)
}

// A Coder is a value that can report an error code value.
type Coder interface {
	Code() Code
}

// Err converts c to an error value, which is nil for code.NoError and
// otherwise an error value constructed by fmt.Errorf.
func (c Code) Err() error {
	if c == NoError {
		return nil
	} else if s, ok := stdError[c]; ok {
		return fmt.Errorf("[%d] %s", c, s)
	}
	return errors.New(c.String())
}

// Pre-defined error codes for pipe and device operations.
const (
	NoError           Code = -32099 // Denotes a nil error (used by FromError)
	SystemError       Code = -32098 // Errors from the operating environment
	Cancelled         Code = -32097 // Wait cancelled (context.Canceled)
	DeadlineExceeded  Code = -32096 // Wait deadline exceeded (context.DeadlineExceeded)
	ResourceExhausted Code = -32095 // A signal or device resource could not be allocated
	ProtocolMisuse    Code = -32094 // A pipe operation violated the hand-off protocol
	DeviceError       Code = -32093 // A control-plane device reported failure
	Aborted           Code = -32092 // A producer abandoned its reservation
)

var stdError = map[Code]string{
	NoError:           "no error (success)",
	SystemError:       "system error",
	Cancelled:         "wait cancelled",
	DeadlineExceeded:  "deadline exceeded",
	ResourceExhausted: "resource exhausted",
	ProtocolMisuse:    "protocol misuse",
	DeviceError:       "device error",
	Aborted:           "transfer aborted",
}

// Register adds a new Code value with the specified message string.  This
// function will panic if the proposed value is already registered.
func Register(value int32, message string) Code {
	code := Code(value)
	if s, ok := stdError[code]; ok {
		panic(fmt.Sprintf("code %d is already registered for %q", code, s))
	}
	stdError[code] = message
	return code
}

// FromError returns a Code to categorize the specified error.
// If err == nil, it returns code.NoError.
// If err is (or wraps) a Coder, it returns the reported code value.
// If err is context.Canceled, it returns code.Cancelled.
// If err is context.DeadlineExceeded, it returns code.DeadlineExceeded.
// Otherwise it returns code.SystemError.
func FromError(err error) Code {
	if err == nil {
		return NoError
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	default:
		return SystemError
	}
}

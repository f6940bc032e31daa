// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package reconos

import (
	"errors"
	"fmt"

	"github.com/creachadair/reconos/code"
)

// Error is the concrete type of errors reported by pipe operations, either as
// a return value (NewPipe) or as the value of a panic (protocol misuse).
type Error struct {
	code    code.Code
	Op      string // the operation that failed, e.g. "Commit"
	Message string
}

// Error renders e to a human-readable string for the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("[%d] %s", e.code, e.Message)
	}
	return fmt.Sprintf("%s: [%d] %s", e.Op, e.code, e.Message)
}

// Code reports the error code of e, satisfying code.Coder.
func (e *Error) Code() code.Code { return e.code }

// Is reports whether target is an *Error with no operation and the same code
// as e. This allows errors.Is(err, ErrProtocolMisuse) to match any misuse.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.code == e.code
}

var (
	// ErrResourceExhausted is reported by NewPipe when the signals for a new
	// pipe cannot be allocated from its budget.
	ErrResourceExhausted = &Error{code: code.ResourceExhausted, Message: "resource exhausted"}

	// ErrProtocolMisuse matches the panic value of any operation that
	// violates the single-producer, single-consumer hand-off protocol.
	ErrProtocolMisuse = &Error{code: code.ProtocolMisuse, Message: "protocol misuse"}

	// ErrAborted is reported by RecvContext when the producer gave up its
	// reservation with Abort instead of committing it.
	ErrAborted = &Error{code: code.Aborted, Message: "transfer aborted"}
)

// ErrClosed is returned by Close when the pipe was already closed.
var ErrClosed = errors.New("pipe is closed")

// Errorf returns an error value of concrete type *Error having the specified
// code, operation, and formatted message string.
func Errorf(c code.Code, op, msg string, args ...any) error {
	return &Error{code: c, Op: op, Message: fmt.Sprintf(msg, args...)}
}

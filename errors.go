package ntcore

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the high-level error taxonomy every failing core operation
// reports through (spec §7).
type Code string

const (
	CodeInvalid           Code = "invalid"
	CodeWouldBlock        Code = "would block"
	CodeEOF               Code = "eof"
	CodeConnectionDead    Code = "connection dead"
	CodeConnectionRefused Code = "connection refused"
	CodeAddressInUse      Code = "address in use"
	CodeLimit             Code = "limit"
	CodeNotImplemented    Code = "not implemented"
	CodeCancelled         Code = "cancelled"
)

// Error is a structured error with context and errno mapping, in the shape
// the teacher repo's ublk.Error uses: an operation tag, a device/session
// scope, a high-level Code, and an optional wrapped syscall.Errno.
type Error struct {
	Op     string // operation that failed, e.g. "Session.Send", "Chronology.Schedule"
	Handle int    // session/socket handle, 0 if not applicable
	Code   Code
	Errno  syscall.Errno // 0 if not applicable
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op == "" {
		return fmt.Sprintf("ntcore: %s", msg)
	}
	if e.Handle != 0 {
		return fmt.Sprintf("ntcore: %s (op=%s handle=%d)", msg, e.Op, e.Handle)
	}
	return fmt.Sprintf("ntcore: %s (op=%s)", msg, e.Op)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New creates a structured error for the given operation and code.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewWithHandle creates a structured error scoped to a session/socket handle.
func NewWithHandle(op string, handle int, code Code, msg string) *Error {
	return &Error{Op: op, Handle: handle, Code: code, Msg: msg}
}

// NewWithErrno creates a structured error wrapping a kernel errno.
func NewWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// Wrap attaches operation context to an existing error, classifying raw
// syscall.Errno values into the Code taxonomy along the way.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, Handle: ue.Handle, Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrno(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: CodeInvalid, Msg: inner.Error(), Inner: inner}
}

func mapErrno(errno syscall.Errno) Code {
	switch errno {
	case syscall.EAGAIN: // same value as EWOULDBLOCK
		return CodeWouldBlock
	case syscall.ECONNREFUSED:
		return CodeConnectionRefused
	case syscall.ECONNRESET, syscall.EPIPE, syscall.ENOTCONN:
		return CodeConnectionDead
	case syscall.EADDRINUSE:
		return CodeAddressInUse
	case syscall.ECANCELED:
		return CodeCancelled
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return CodeNotImplemented
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalid
	default:
		return CodeInvalid
	}
}

// Is reports whether err carries the given Code, unwrapping through
// errors.As the way the teacher's IsCode helper does.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

package proactor

import "time"

// Operation is a single prepared submission: an operation kind, the
// file descriptor it applies to (ignored for KindCallback), its buffer
// (send payload, or receive destination), an optional destination
// address (sendto/connect), and the user data tag that round-trips it
// through the kernel to Wait's Completion.
type Operation struct {
	Kind     Kind
	FD       int
	Buf      []byte
	Addr     []byte
	UserData uint64
}

// Completion is a single finished operation reported by a Port: the
// user data that round-trips an Operation through the kernel and a
// result (bytes transferred, or a negative errno on failure).
type Completion struct {
	UserData uint64
	Result   int32
	Err      error
}

// Port is the completion port abstraction a waiter drives: prepare
// operations, flush them to the kernel with a single syscall, block for
// completions bounded by a timeout, and close when the proactor shuts
// down. The real implementation is Linux io_uring (port_linux.go);
// stubPort backs tests and non-Linux builds.
type Port interface {
	// Prepare stages op for submission without making a syscall.
	Prepare(op Operation) error

	// Flush submits every prepared-but-not-yet-submitted operation with
	// a single syscall.
	Flush() error

	// Wait blocks until at least one completion is available or timeout
	// elapses, returning whatever completed. A zero timeout blocks
	// indefinitely.
	Wait(timeout time.Duration) ([]Completion, error)

	// Close releases the port's kernel resources.
	Close() error
}

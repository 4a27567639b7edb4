package proactor

import "github.com/kevinmarsh/ntcore"

// Socket is what the proactor attaches and drives: something with a
// handle that can receive an announced completion.
type Socket interface {
	Handle() ntcore.Handle
	Announce(Outcome)
}

// detachState tracks a socket's lifecycle with the completion port,
// mirroring the per-tag fetch/owned/commit machine a completion-ring
// consumer needs to avoid racing a detach against an in-flight
// completion.
type detachState int

const (
	// stateAttached: the socket may have operations submitted and
	// completions announced.
	stateAttached detachState = iota
	// stateDetaching: Detach has been requested; no new submissions are
	// accepted, but in-flight events still announce so their buffers can
	// be released by their owners.
	stateDetaching
	// stateDetached: no in-flight events remain; the socket is fully
	// removed from the proactor's table.
	stateDetached
)

// socketEntry is the proactor's per-socket bookkeeping: its detach
// state, a count of in-flight events (so Detach can tell when it is
// safe to transition to stateDetached), and the channel Detach waits on.
// Its fields are guarded by the Proactor's mutex.
type socketEntry struct {
	socket    Socket
	state     detachState
	inFlight  int
	detachAck chan struct{} // closed when inFlight reaches 0 after a detach request
}

// Package constants collects the timing and sizing constants shared by
// the proactor's waiter loop, the chronology's drain cycle, and the
// machine's step loop, the way a single internal package keeps every
// subsystem's tuning knobs in one place instead of scattered literals.
package constants

import "time"

// Completion port sizing.
const (
	// DefaultCompletionQueueDepth is the default submission/completion
	// ring depth for a proactor's completion port.
	DefaultCompletionQueueDepth = 256

	// MaxInFlightPerSocket bounds how many operations a single socket may
	// have outstanding with the completion port at once.
	MaxInFlightPerSocket = 16
)

// Waiter loop timing.
//
// A principal waiter blocks in the kernel for new completions; idle
// CALLBACK events (submitted with no associated I/O) are coalesced onto
// a local run queue rather than round-tripping through the completion
// port, bounded by these constants.
const (
	// IdleCallbackCoalesceWindow is the completion-port Wait timeout the
	// waiter uses when the chronology reports no later deadline; queued
	// CALLBACK events are flushed to their handlers after each Wait.
	IdleCallbackCoalesceWindow = 200 * time.Microsecond

	// MaxCoalescedCallbacks caps how many CALLBACK events accumulate in
	// the idle run queue before a flush is forced regardless of the
	// coalesce window, bounding worst-case dispatch latency.
	MaxCoalescedCallbacks = 512

	// WaiterShutdownGrace is how long a proactor Detach (including each
	// one CloseAll makes) waits for a socket's in-flight events to
	// complete before it gives up with CodeLimit.
	WaiterShutdownGrace = 2 * time.Second
)

// Chronology drain cycle.
const (
	// MaxTimersPerDrain bounds how many expired scheduled timers a single
	// Execute call fires before yielding, so one overdue burst cannot
	// starve the deferred sub-store.
	MaxTimersPerDrain = 1024

	// MaxDeferredPerDrain bounds how many deferred callbacks a single
	// Execute call runs before yielding.
	MaxDeferredPerDrain = 1024
)

// Machine step loop.
const (
	// StepIdleBackoff is the period of the machine's step ticker: the
	// step loop runs a step at least this often even when nothing wakes
	// it explicitly.
	StepIdleBackoff = 1 * time.Millisecond

	// MaxPacketsPerStep bounds how many packets a single step delivers
	// per session, so one saturated session cannot starve the others in
	// round-robin fan-out.
	MaxPacketsPerStep = 64
)

package proactor

import (
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kevinmarsh/ntcore"
	"github.com/kevinmarsh/ntcore/chronology"
	"github.com/kevinmarsh/ntcore/internal/constants"
)

// Config configures a Proactor.
type Config struct {
	// Port is the completion port to drive. If nil, a stub (in-memory)
	// port is used, matching the teacher's real-device/stub-device
	// split for testing without a kernel.
	Port Port

	// Chronology is the timer store to drain on every waiter cycle. If
	// nil, a private Chronology is created.
	Chronology *chronology.Chronology

	// CPUAffinity pins the principal waiter's OS thread to one of these
	// CPUs, round-robin if multiple waiters are ever started.
	CPUAffinity []int

	Logger ntcore.Logger
}

// Proactor is the completion-based I/O driver: it holds a table of
// attached sockets, submits operations to a completion port, and runs a
// waiter loop that dispatches completions back to their sockets.
type Proactor struct {
	port       Port
	chronology *chronology.Chronology
	logger     ntcore.Logger
	cpuAffinity []int

	mu      sync.Mutex
	sockets map[ntcore.Handle]*socketEntry
	nextTag uint64
	pending []pendingEvent

	idle      []func()
	idleMu    sync.Mutex
	interrupt chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New creates a Proactor from config, starting its principal waiter.
func New(config Config) *Proactor {
	port := config.Port
	if port == nil {
		port = newStubPort()
	}
	chrono := config.Chronology
	if chrono == nil {
		chrono = chronology.New(nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = ntcore.NoopLogger
	}

	p := &Proactor{
		port:        port,
		chronology:  chrono,
		logger:      logger,
		cpuAffinity: config.CPUAffinity,
		sockets:     make(map[ntcore.Handle]*socketEntry),
		interrupt:   make(chan struct{}, 1),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	go p.waitLoop()
	return p
}

// Chronology exposes the proactor's timer store, so callers can
// schedule timers that fire on the same waiter thread as I/O
// completions.
func (p *Proactor) Chronology() *chronology.Chronology { return p.chronology }

// Attach registers a socket with the proactor, making it eligible for
// Submit.
func (p *Proactor) Attach(s Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := s.Handle()
	if _, exists := p.sockets[h]; exists {
		return ntcore.NewWithHandle("Proactor.Attach", int(h), ntcore.CodeAddressInUse, "handle already attached")
	}
	p.sockets[h] = &socketEntry{socket: s, state: stateAttached}
	return nil
}

// Submit allocates an event for op, records its owning socket, and
// hands it to the completion port. KindCallback is rejected with
// CodeInvalid; callbacks are queued through SubmitCallback instead.
// The returned tag identifies this submission for a later Cancellation
// call.
func (p *Proactor) Submit(s Socket, kind Kind, buf []byte, endpoint []byte) (uint64, error) {
	if kind == KindCallback {
		return 0, ntcore.New("Proactor.Submit", ntcore.CodeInvalid, "use SubmitCallback for callback events")
	}

	p.mu.Lock()
	entry, ok := p.sockets[s.Handle()]
	if !ok {
		p.mu.Unlock()
		return 0, ntcore.NewWithHandle("Proactor.Submit", int(s.Handle()), ntcore.CodeInvalid, "socket not attached")
	}
	if entry.state != stateAttached {
		p.mu.Unlock()
		return 0, ntcore.NewWithHandle("Proactor.Submit", int(s.Handle()), ntcore.CodeConnectionDead, "socket is detaching")
	}
	entry.inFlight++
	p.nextTag++
	tag := p.nextTag
	p.mu.Unlock()

	ev := getEvent()
	ev.Kind = kind
	ev.Socket = s
	ev.Buf = buf
	ev.Endpoint = endpoint
	ev.userData = tag

	p.mu.Lock()
	p.pending = append(p.pending, pendingEvent{tag: tag, event: ev})
	p.mu.Unlock()

	if err := p.port.Prepare(Operation{Kind: kind, Buf: buf, Addr: endpoint, UserData: tag}); err != nil {
		p.releaseEvent(tag)
		return 0, ntcore.Wrap("Proactor.Submit", err)
	}
	if err := p.port.Flush(); err != nil {
		return tag, ntcore.Wrap("Proactor.Submit", err)
	}
	return tag, nil
}

// SubmitCallback queues a function to run on the waiter thread. Idle
// callbacks are coalesced into a local run queue (SPEC_FULL §4.7a)
// instead of round-tripping through the completion port; the waiter
// runs the queue after each Wait returns. When the queue reaches
// constants.MaxCoalescedCallbacks, SubmitCallback runs the whole queue
// itself, on the calling goroutine.
func (p *Proactor) SubmitCallback(fn func()) {
	p.idleMu.Lock()
	p.idle = append(p.idle, fn)
	overflow := len(p.idle) >= constants.MaxCoalescedCallbacks
	p.idleMu.Unlock()

	select {
	case p.interrupt <- struct{}{}:
	default:
	}
	if overflow {
		p.flushIdle()
	}
}

func (p *Proactor) flushIdle() {
	p.idleMu.Lock()
	batch := p.idle
	p.idle = nil
	p.idleMu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

type pendingEvent struct {
	tag   uint64
	event *Event
}

func (p *Proactor) releaseEvent(tag uint64) *Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pe := range p.pending {
		if pe.tag == tag {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return pe.event
		}
	}
	return nil
}

// Cancellation requests the in-flight operation tagged targetUserData
// be aborted. A completion that reports the abort is not announced to
// the socket (cancellation is silent); it still counts toward a pending
// Detach.
func (p *Proactor) Cancellation(targetUserData uint64) error {
	if err := p.port.Prepare(Operation{Kind: KindCancel, UserData: targetUserData}); err != nil {
		return ntcore.Wrap("Proactor.Cancellation", err)
	}
	return p.port.Flush()
}

// Detach transitions a socket to stateDetaching: no new submissions are
// accepted, but events already in flight still announce. Detach blocks
// until every in-flight event for this socket has completed, or returns
// CodeLimit once constants.WaiterShutdownGrace has passed without that.
func (p *Proactor) Detach(h ntcore.Handle) error {
	p.mu.Lock()
	entry, ok := p.sockets[h]
	if !ok {
		p.mu.Unlock()
		return ntcore.NewWithHandle("Proactor.Detach", int(h), ntcore.CodeInvalid, "socket not attached")
	}
	entry.state = stateDetaching
	if entry.inFlight == 0 {
		entry.state = stateDetached
		delete(p.sockets, h)
		socket := entry.socket
		p.mu.Unlock()
		socket.Announce(Outcome{Kind: KindDetach})
		return nil
	}
	entry.detachAck = make(chan struct{})
	ack := entry.detachAck
	p.mu.Unlock()

	select {
	case <-ack:
		return nil
	case <-time.After(constants.WaiterShutdownGrace):
		return ntcore.NewWithHandle("Proactor.Detach", int(h), ntcore.CodeLimit, "detach timed out waiting for in-flight events")
	}
}

// CloseAll detaches every attached socket and stops the waiter loop.
func (p *Proactor) CloseAll() error {
	p.mu.Lock()
	handles := make([]ntcore.Handle, 0, len(p.sockets))
	for h := range p.sockets {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		_ = p.Detach(h)
	}

	p.stopOnce.Do(func() { close(p.stopped) })
	<-p.done
	return p.port.Close()
}

// waitLoop is the principal waiter thread: compute the earliest
// chronology deadline, dequeue completions with that timeout, dispatch
// each to its socket's announce callback, then drain the chronology up
// to its configured budget.
func (p *Proactor) waitLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(p.done)

	if len(p.cpuAffinity) > 0 {
		var mask unix.CPUSet
		mask.Set(p.cpuAffinity[0])
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			p.logger.Warnf("proactor: failed to set waiter CPU affinity: %v", err)
		}
	}

	for {
		select {
		case <-p.stopped:
			return
		default:
		}

		timeout, _ := p.chronology.NextDeadline(time.Now())
		if timeout == 0 {
			timeout = constants.IdleCallbackCoalesceWindow
		}

		completions, err := p.port.Wait(timeout)
		if err != nil {
			p.logger.Errorf("proactor: wait failed: %v", err)
			continue
		}
		for _, c := range completions {
			p.dispatch(c)
		}

		p.flushIdle()
		p.chronology.Execute(time.Now())
	}
}

// dispatch recovers the event for a completion's user data, announces
// the outcome to its socket, and updates the socket's detach state.
func (p *Proactor) dispatch(c Completion) {
	ev := p.releaseEvent(c.UserData)
	if ev == nil {
		return // cancellation/nop completion with no owning event
	}
	defer putEvent(ev)

	h := ev.Socket.Handle()
	p.mu.Lock()
	entry, ok := p.sockets[h]
	var detachedSocket Socket
	if ok {
		entry.inFlight--
		if entry.state == stateDetaching && entry.inFlight == 0 {
			entry.state = stateDetached
			delete(p.sockets, h)
			detachedSocket = entry.socket
			if entry.detachAck != nil {
				close(entry.detachAck)
			}
		}
	}
	p.mu.Unlock()

	// Only the final transition announces detachment to the user on the
	// socket's strand (spec §4.7): if this completion is the one that
	// drained inFlight to zero while detaching, it announces KindDetach
	// after (or, for a silently-cancelled completion, instead of) its
	// own outcome.
	announceDetach := func() {
		if detachedSocket != nil {
			detachedSocket.Announce(Outcome{Kind: KindDetach})
		}
	}

	if c.Result < 0 && syscall.Errno(-c.Result) == syscall.ECANCELED {
		// Cancellation is silent (spec §4.7, §5): the kernel surfaces a
		// cancelled operation as a normal completion with
		// ERROR-OPERATION-ABORTED, which the dispatcher downgrades to a
		// logged outcome instead of announcing it to the user. A later
		// Detach still announces once inFlight drains to zero.
		p.logger.Debugf("proactor: operation cancelled handle=%d kind=%s", h, ev.Kind)
		announceDetach()
		return
	}

	outcome := Outcome{Kind: ev.Kind, N: int(c.Result)}
	if c.Result < 0 {
		outcome.Err = ntcore.Wrap("Proactor.dispatch", syscall.Errno(-c.Result))
	}
	ev.Socket.Announce(outcome)
	announceDetach()
}

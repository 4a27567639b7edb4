package machine

import (
	"sync"

	"github.com/kevinmarsh/ntcore"
)

// Interest is the set of conditions a session can register the
// monitor's attention for.
type Interest struct {
	Readable     bool
	Writable     bool
	Error        bool
	Notification bool
}

// any reports whether at least one condition is set.
func (i Interest) any() bool {
	return i.Readable || i.Writable || i.Error || i.Notification
}

// intersects reports whether i and o share an interest, i.e. a want
// flag is matched by a have flag.
func (i Interest) intersects(o Interest) bool {
	return (i.Readable && o.Readable) ||
		(i.Writable && o.Writable) ||
		(i.Error && o.Error) ||
		(i.Notification && o.Notification)
}

// registration tracks one session's want/have interest pair and its
// position in the ready queue.
type registration struct {
	ref   sessionRef
	want  Interest
	have  Interest
	ready bool
}

// ReadyEvent reports a session whose have interest satisfied its want
// interest, handed back from Monitor.Dequeue.
type ReadyEvent struct {
	Handle ntcore.Handle
	Ready  Interest
}

// Monitor is the round-robin readiness registry (spec §4.5): sessions
// register a want interest, the machine's step loop reports have
// (actual readiness) as it changes, and Dequeue hands back ready
// sessions one at a time in round-robin order so no single busy session
// can starve the others. Monitor is level-triggered only: a session
// that drains its readiness without un-registering interest is reported
// again on its next turn around the queue (spec §9 Open Question (a),
// resolved against implementing one-shot/edge-triggered mode).
type Monitor struct {
	mu   sync.Mutex
	cond *sync.Cond

	regs  map[ntcore.Handle]*registration
	queue []ntcore.Handle

	interrupts int
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	m := &Monitor{regs: make(map[ntcore.Handle]*registration)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Register installs or updates a session's want interest. A session
// with no want interest is removed from tracking.
func (m *Monitor) Register(ref sessionRef, want Interest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !want.any() {
		m.removeLocked(ref.handle)
		return
	}

	r, ok := m.regs[ref.handle]
	if !ok {
		r = &registration{ref: ref}
		m.regs[ref.handle] = r
	}
	r.want = want
	m.reconsiderLocked(r)
}

// Unregister drops a session from the monitor entirely, e.g. on close.
func (m *Monitor) Unregister(h ntcore.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(h)
}

func (m *Monitor) removeLocked(h ntcore.Handle) {
	delete(m.regs, h)
	for i, qh := range m.queue {
		if qh == h {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

// ReportReady updates have interest for a session, appending it to the
// tail of the ready queue if its want and have interests now intersect
// and it isn't already queued.
func (m *Monitor) ReportReady(h ntcore.Handle, have Interest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[h]
	if !ok {
		return
	}
	r.have = have
	m.reconsiderLocked(r)
}

func (m *Monitor) reconsiderLocked(r *registration) {
	if _, live := r.ref.resolve(); !live {
		m.removeLocked(r.ref.handle)
		return
	}
	if r.want.intersects(r.have) {
		if !r.ready {
			r.ready = true
			m.queue = append(m.queue, r.ref.handle)
			m.cond.Broadcast()
		}
	} else {
		r.ready = false
	}
}

// Dequeue pops the head of the ready queue, reports it, and
// re-appends it to the tail if its session is still live and still
// satisfies its want interest, implementing the round-robin guarantee.
// Dequeue blocks until a ready session is available or InterruptOne/
// InterruptAll is called.
func (m *Monitor) Dequeue() (ReadyEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) == 0 && m.interrupts == 0 {
		m.cond.Wait()
	}
	if m.interrupts > 0 {
		m.interrupts--
		return ReadyEvent{}, false
	}

	h := m.queue[0]
	m.queue = m.queue[1:]

	r, ok := m.regs[h]
	if !ok {
		return ReadyEvent{}, false
	}
	if _, live := r.ref.resolve(); !live {
		delete(m.regs, h)
		return ReadyEvent{}, false
	}

	ev := ReadyEvent{Handle: h, Ready: r.have}
	if r.want.intersects(r.have) {
		m.queue = append(m.queue, h)
	} else {
		r.ready = false
	}
	return ev, true
}

// InterruptOne wakes a single blocked Dequeue call without delivering a
// ready event, used to let a waiter re-check a shutdown condition.
func (m *Monitor) InterruptOne() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts++
	m.cond.Signal()
}

// InterruptAll adds n interrupts and wakes every blocked Dequeue call;
// up to n of them return without an event and the rest wait again.
func (m *Monitor) InterruptAll(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts += n
	m.cond.Broadcast()
}

// Len reports the number of sessions currently in the ready queue.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

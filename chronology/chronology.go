// Package chronology implements the timer store a proactor drains on
// every waiter cycle: a scheduled sub-store ordered by deadline and a
// deferred sub-store run in FIFO order, both served from a single lock
// so callers never race the drain against a concurrent schedule.
package chronology

import (
	"container/heap"
	"sync"
	"time"

	"github.com/kevinmarsh/ntcore/internal/constants"
)

// ID identifies a scheduled or deferred timer, returned by Schedule,
// ScheduleRepeating, and Defer for later Cancel calls.
type ID uint64

type mode int

const (
	modeOneShot mode = iota
	modePeriodic
)

type scheduledTimer struct {
	id        ID
	deadline  time.Time
	period    time.Duration
	mode      mode
	callback  func()
	cancelled bool
	seq       uint64 // insertion order, breaks deadline ties
}

// timerHeap orders scheduledTimer by deadline, then by insertion order,
// so "timers with earlier deadlines fire before timers with later
// deadlines; timers with equal deadlines fire in insertion order."
type timerHeap []*scheduledTimer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)   { *h = append(*h, x.(*scheduledTimer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type deferredTimer struct {
	id        ID
	callback  func()
	cancelled bool
}

// Chronology is a hierarchical timer store with a scheduled sub-store
// (sorted by deadline) and a deferred sub-store (FIFO). A Chronology may
// be constructed with a parent, in which case every operation delegates
// to the parent's store and lock, the composition mechanism for sharing
// one timer store across multiple proactors or machines.
type Chronology struct {
	mu        sync.Mutex
	scheduled timerHeap
	deferred  []*deferredTimer
	nextID    ID
	nextSeq   uint64
	parent    *Chronology
}

// New creates a Chronology. If parent is non-nil, New returns parent
// itself, so every operation uses parent's store and lock.
func New(parent *Chronology) *Chronology {
	if parent != nil {
		return parent
	}
	return &Chronology{}
}

// Schedule registers a one-shot callback to fire at deadline.
func (c *Chronology) Schedule(deadline time.Time, callback func()) ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduleLocked(deadline, 0, modeOneShot, callback)
}

// ScheduleRepeating registers a callback that first fires at `first`
// and then every `period` thereafter, until cancelled.
func (c *Chronology) ScheduleRepeating(first time.Time, period time.Duration, callback func()) ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduleLocked(first, period, modePeriodic, callback)
}

func (c *Chronology) scheduleLocked(deadline time.Time, period time.Duration, m mode, callback func()) ID {
	c.nextID++
	c.nextSeq++
	t := &scheduledTimer{id: c.nextID, deadline: deadline, period: period, mode: m, callback: callback, seq: c.nextSeq}
	heap.Push(&c.scheduled, t)
	return t.id
}

// Defer enqueues a functor to run on the next drain, deadline = now.
func (c *Chronology) Defer(callback func()) ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	d := &deferredTimer{id: c.nextID, callback: callback}
	c.deferred = append(c.deferred, d)
	return d.id
}

// Cancel marks a timer cancelled; a cancelled one-shot timer is never
// invoked, and a cancelled periodic timer stops being re-inserted.
// Returns false if no timer with that id is pending.
func (c *Chronology) Cancel(id ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.scheduled {
		if t.id == id && !t.cancelled {
			t.cancelled = true
			return true
		}
	}
	for _, d := range c.deferred {
		if d.id == id && !d.cancelled {
			d.cancelled = true
			return true
		}
	}
	return false
}

// NextDeadline returns the duration until the earliest pending
// scheduled timer, for a waiter to use as its completion-port dequeue
// timeout. The deferred sub-store always has work ready "now", so its
// presence reports a zero duration.
func (c *Chronology) NextDeadline(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deferred) > 0 {
		return 0, true
	}
	for len(c.scheduled) > 0 && c.scheduled[0].cancelled {
		heap.Pop(&c.scheduled)
	}
	if len(c.scheduled) == 0 {
		return 0, false
	}
	d := c.scheduled[0].deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Execute drains the deferred sub-store, then the scheduled sub-store
// while the head's deadline is <= now, re-inserting periodic timers at
// their next deadline. Each sub-store is bounded so one overdue burst
// cannot starve the other. Returns the number of callbacks invoked.
func (c *Chronology) Execute(now time.Time) int {
	fired := 0
	fired += c.drainDeferred()
	fired += c.drainScheduled(now)
	return fired
}

func (c *Chronology) drainDeferred() int {
	var due []*deferredTimer
	c.mu.Lock()
	n := len(c.deferred)
	if n > constants.MaxDeferredPerDrain {
		n = constants.MaxDeferredPerDrain
	}
	due, c.deferred = c.deferred[:n], c.deferred[n:]
	c.mu.Unlock()

	fired := 0
	for _, d := range due {
		if d.cancelled {
			continue
		}
		d.callback()
		fired++
	}
	return fired
}

func (c *Chronology) drainScheduled(now time.Time) int {
	fired := 0
	for fired < constants.MaxTimersPerDrain {
		c.mu.Lock()
		if len(c.scheduled) == 0 || c.scheduled[0].deadline.After(now) {
			c.mu.Unlock()
			break
		}
		t := heap.Pop(&c.scheduled).(*scheduledTimer)
		if t.mode == modePeriodic && !t.cancelled {
			t.deadline = t.deadline.Add(t.period)
			heap.Push(&c.scheduled, t)
		}
		c.mu.Unlock()

		if t.cancelled {
			continue
		}
		t.callback()
		fired++
	}
	return fired
}

// Pending reports the total number of outstanding (not yet fired, not
// cancelled) timers across both sub-stores, for tests and diagnostics.
func (c *Chronology) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.scheduled {
		if !t.cancelled {
			n++
		}
	}
	for _, d := range c.deferred {
		if !d.cancelled {
			n++
		}
	}
	return n
}

package machine

import (
	"sync"

	"github.com/kevinmarsh/ntcore"
)

// PacketQueue is a bounded FIFO of packets with cost-based watermark
// accounting: current_watermark is the sum of queued packets' Cost, and
// enqueue blocks (or reports CodeWouldBlock, non-blocking) once that sum
// reaches High, until a Dequeue drops it below High again (spec §4.3).
type PacketQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items     []*Packet
	watermark int

	low, high int
	shutdown  bool

	// observer, if set, is called synchronously after every successful
	// enqueue (spec §4.3's "observer functor hook on enqueue"), e.g. so a
	// session can ask the monitor to re-check readiness.
	observer func()
}

// NewPacketQueue returns an empty queue with the given low/high
// watermarks.
func NewPacketQueue(low, high int) *PacketQueue {
	q := &PacketQueue{low: low, high: high}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetObserver installs the enqueue-notification hook.
func (q *PacketQueue) SetObserver(fn func()) {
	q.mu.Lock()
	q.observer = fn
	q.mu.Unlock()
}

// Watermark returns the current sum of queued packet costs.
func (q *PacketQueue) Watermark() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.watermark
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Full reports whether the watermark has reached High.
func (q *PacketQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.watermark >= q.high
}

// Enqueue appends p to the tail. If block is true, Enqueue waits for
// the watermark to drop below High (or for shutdown); if false, it
// returns CodeWouldBlock immediately when full. Enqueue past a
// shutdown queue always fails with CodeConnectionDead.
func (q *PacketQueue) Enqueue(p *Packet, block bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return ntcore.New("PacketQueue.Enqueue", ntcore.CodeConnectionDead, "queue is shut down")
	}

	for q.watermark >= q.high && !q.shutdown {
		if !block {
			return ntcore.New("PacketQueue.Enqueue", ntcore.CodeWouldBlock, "queue at high watermark")
		}
		q.cond.Wait()
	}
	if q.shutdown {
		return ntcore.New("PacketQueue.Enqueue", ntcore.CodeConnectionDead, "queue is shut down")
	}

	q.items = append(q.items, p)
	q.watermark += p.Cost
	obs := q.observer
	q.cond.Broadcast()
	if obs != nil {
		q.mu.Unlock()
		obs()
		q.mu.Lock()
	}
	return nil
}

// Dequeue removes and returns the head packet. If block is true,
// Dequeue waits for a packet to arrive (or for shutdown); if false, it
// returns CodeWouldBlock immediately when empty. Dequeue from a drained,
// shut-down queue returns CodeEOF.
func (q *PacketQueue) Dequeue(block bool) (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.shutdown {
			return nil, ntcore.New("PacketQueue.Dequeue", ntcore.CodeEOF, "queue drained and shut down")
		}
		if !block {
			return nil, ntcore.New("PacketQueue.Dequeue", ntcore.CodeWouldBlock, "queue empty")
		}
		q.cond.Wait()
	}

	p := q.items[0]
	q.items = q.items[1:]
	q.watermark -= p.Cost
	if q.watermark < q.high {
		q.cond.Broadcast()
	}
	return p, nil
}

// Peek returns the head packet without removing it, or ok=false if
// empty. Non-destructive inspection is kept (Open Question resolved in
// favor of retaining peek). Session.Receive does not use it: it
// dequeues the head and puts any unconsumed remainder back with
// RetryFront.
func (q *PacketQueue) Peek() (*Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// RetryFront reinserts p at the head, for a partially-consumed packet
// or a delivery attempt that must be retried before anything else is
// dequeued. The watermark is restored for p's cost.
func (q *PacketQueue) RetryFront(p *Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*Packet{p}, q.items...)
	q.watermark += p.Cost
	q.cond.Broadcast()
}

// RetryFrontBatch reinserts a batch of packets at the head, preserving
// their relative order, for a cross-session transfer step that must
// unwind.
func (q *PacketQueue) RetryFrontBatch(batch []*Packet) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]*Packet{}, batch...), q.items...)
	for _, p := range batch {
		q.watermark += p.Cost
	}
	q.cond.Broadcast()
}

// Shutdown marks the queue shut down: further Enqueue calls fail with
// CodeConnectionDead, and Dequeue returns CodeEOF once drained. Blocked
// waiters are woken so they can observe the new state.
func (q *PacketQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	q.cond.Broadcast()
}

// IsShutdown reports whether Shutdown has been called.
func (q *PacketQueue) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}

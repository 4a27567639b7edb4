package machine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kevinmarsh/ntcore"
)

func newPayloadPacket(n int) *Packet {
	return &Packet{Type: PacketPush, Payload: make([]byte, n), Cost: n}
}

// Packet queue backpressure: high=10, low=1. Ten single-cost packets
// fill the queue to the high watermark; the eleventh fails WouldBlock
// non-blocking, and draining one packet makes room for another.
func TestPacketQueueBackpressure(t *testing.T) {
	q := NewPacketQueue(1, 10)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(newPayloadPacket(1), false))
	}
	require.True(t, q.Full())

	err := q.Enqueue(newPayloadPacket(1), false)
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeWouldBlock))

	_, err = q.Dequeue(false)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(newPayloadPacket(1), false))
	require.True(t, q.Full())
}

func TestPacketQueueDequeueEmptyNonBlockingWouldBlock(t *testing.T) {
	q := NewPacketQueue(1, 10)
	_, err := q.Dequeue(false)
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeWouldBlock))
}

func TestPacketQueueShutdownDrainsThenEOF(t *testing.T) {
	q := NewPacketQueue(1, 10)
	require.NoError(t, q.Enqueue(newPayloadPacket(4), false))
	q.Shutdown()

	p, err := q.Dequeue(false)
	require.NoError(t, err)
	require.Equal(t, 4, p.Cost)

	_, err = q.Dequeue(false)
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeEOF))
}

func TestPacketQueueEnqueueAfterShutdownFails(t *testing.T) {
	q := NewPacketQueue(1, 10)
	q.Shutdown()
	err := q.Enqueue(newPayloadPacket(1), false)
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeConnectionDead))
}

func TestPacketQueueBlockingEnqueueUnblocksOnDequeue(t *testing.T) {
	q := NewPacketQueue(1, 1)
	require.NoError(t, q.Enqueue(newPayloadPacket(1), false))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(newPayloadPacket(1), true)
	}()

	select {
	case <-done:
		t.Fatal("enqueue should have blocked while queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Dequeue(false)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked enqueue never woke up")
	}
}

// A Dequeue that drops the watermark below High (but not below Low) must
// still wake a blocked Enqueue: low and high are independent thresholds,
// and the transition that unparks a full queue is "below High", not
// "below Low" (spec §4.3).
func TestPacketQueueBlockingEnqueueUnblocksBelowHighAboveLow(t *testing.T) {
	q := NewPacketQueue(1, 2)
	require.NoError(t, q.Enqueue(newPayloadPacket(1), false))
	require.NoError(t, q.Enqueue(newPayloadPacket(1), false))
	require.True(t, q.Full())

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(newPayloadPacket(1), true)
	}()

	select {
	case <-done:
		t.Fatal("enqueue should have blocked while queue was at high watermark")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Dequeue(false)
	require.NoError(t, err)
	require.Equal(t, 1, q.Watermark()) // above low(1), still below high(2)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked enqueue never woke up")
	}
}

func TestPacketQueueRetryFrontPreservesOrder(t *testing.T) {
	q := NewPacketQueue(1, 10)
	require.NoError(t, q.Enqueue(newPayloadPacket(1), false))
	head := newPayloadPacket(2)
	q.RetryFront(head)

	p, err := q.Dequeue(false)
	require.NoError(t, err)
	require.Same(t, head, p)
	require.Equal(t, 1, q.Watermark())
}

func TestPacketQueuePeekDoesNotRemove(t *testing.T) {
	q := NewPacketQueue(1, 10)
	p := newPayloadPacket(3)
	require.NoError(t, q.Enqueue(p, false))

	peeked, ok := q.Peek()
	require.True(t, ok)
	require.Same(t, p, peeked)
	require.Equal(t, 1, q.Len())
}

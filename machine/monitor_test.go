package machine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kevinmarsh/ntcore"
)

func dequeueWithTimeout(t *testing.T, m *Monitor) (ReadyEvent, bool) {
	t.Helper()
	type result struct {
		ev ReadyEvent
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		ev, ok := m.Dequeue()
		done <- result{ev, ok}
	}()
	select {
	case r := <-done:
		return r.ev, r.ok
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue never returned")
		return ReadyEvent{}, false
	}
}

// Monitor round-robin (spec §8): three sessions register read interest
// and all become ready; Dequeue must hand them back in round-robin
// order, re-queuing each to the tail as long as it stays ready.
func TestMonitorRoundRobin(t *testing.T) {
	m := New("test", nil)
	defer m.Close()
	mon := NewMonitor()

	var refs []sessionRef
	for i := 0; i < 3; i++ {
		s := mustOpen(t, m, ntcore.TransportTCPv4)
		refs = append(refs, s.ref())
	}
	for _, r := range refs {
		mon.Register(r, Interest{Readable: true})
	}
	for _, r := range refs {
		mon.ReportReady(r.handle, Interest{Readable: true})
	}
	require.Equal(t, 3, mon.Len())

	want := []ntcore.Handle{refs[0].handle, refs[1].handle, refs[2].handle}

	var order []ntcore.Handle
	for i := 0; i < 6; i++ {
		ev, ok := dequeueWithTimeout(t, mon)
		require.True(t, ok)
		order = append(order, ev.Handle)
	}
	require.Equal(t, append(append([]ntcore.Handle{}, want...), want...), order)
}

// Dropping a session's interest removes it without disturbing the
// round-robin order of the sessions that remain ready.
func TestMonitorRemovedInterestSuppressesWithoutDisturbingOthers(t *testing.T) {
	m := New("test", nil)
	defer m.Close()
	mon := NewMonitor()

	var refs []sessionRef
	for i := 0; i < 3; i++ {
		s := mustOpen(t, m, ntcore.TransportTCPv4)
		refs = append(refs, s.ref())
		mon.Register(s.ref(), Interest{Readable: true})
		mon.ReportReady(s.ref().handle, Interest{Readable: true})
	}

	mon.Register(refs[1], Interest{}) // drop all interest

	want := []ntcore.Handle{refs[0].handle, refs[2].handle}
	var order []ntcore.Handle
	for i := 0; i < 4; i++ {
		ev, ok := dequeueWithTimeout(t, mon)
		require.True(t, ok)
		order = append(order, ev.Handle)
	}
	require.Equal(t, append(append([]ntcore.Handle{}, want...), want...), order)
}

func TestMonitorInterruptOneUnblocksWithoutEvent(t *testing.T) {
	mon := NewMonitor()
	go mon.InterruptOne()
	ev, ok := dequeueWithTimeout(t, mon)
	require.False(t, ok)
	require.Equal(t, ReadyEvent{}, ev)
}

func TestMonitorWantHaveIntersection(t *testing.T) {
	m := New("test", nil)
	defer m.Close()
	mon := NewMonitor()

	s := mustOpen(t, m, ntcore.TransportTCPv4)
	mon.Register(s.ref(), Interest{Writable: true})
	mon.ReportReady(s.Handle(), Interest{Readable: true})
	require.Equal(t, 0, mon.Len())

	mon.ReportReady(s.Handle(), Interest{Writable: true})
	require.Equal(t, 1, mon.Len())
}

// A session that closes while registered must be dropped from the
// ready queue the next time it is reconsidered, rather than handed
// back as a dead handle.
func TestMonitorDropsClosedSessionOnReconsider(t *testing.T) {
	m := New("test", nil)
	defer m.Close()
	mon := NewMonitor()

	s := mustOpen(t, m, ntcore.TransportTCPv4)
	mon.Register(s.ref(), Interest{Readable: true})
	mon.ReportReady(s.Handle(), Interest{Readable: true})
	require.Equal(t, 1, mon.Len())

	require.NoError(t, s.Close())
	mon.ReportReady(s.Handle(), Interest{Readable: true})
	require.Equal(t, 0, mon.Len())
}

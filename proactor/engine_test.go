package proactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kevinmarsh/ntcore"
)

type testSocket struct {
	handle    ntcore.Handle
	announced chan Outcome
}

func newTestSocket(h ntcore.Handle) *testSocket {
	return &testSocket{handle: h, announced: make(chan Outcome, 16)}
}

func (s *testSocket) Handle() ntcore.Handle { return s.handle }
func (s *testSocket) Announce(o Outcome)    { s.announced <- o }

func waitOutcome(t *testing.T, ch chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestAttachAndSubmit(t *testing.T) {
	p := New(Config{})
	defer p.CloseAll()

	s := newTestSocket(10)
	require.NoError(t, p.Attach(s))

	_, err := p.Submit(s, KindSend, []byte("hello"), nil)
	require.NoError(t, err)

	o := waitOutcome(t, s.announced)
	require.Equal(t, KindSend, o.Kind)
	require.Equal(t, 5, o.N)
}

func TestDoubleAttachFails(t *testing.T) {
	p := New(Config{})
	defer p.CloseAll()

	s := newTestSocket(11)
	require.NoError(t, p.Attach(s))
	err := p.Attach(s)
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeAddressInUse))
}

func TestSubmitWithoutAttachFails(t *testing.T) {
	p := New(Config{})
	defer p.CloseAll()

	s := newTestSocket(12)
	_, err := p.Submit(s, KindSend, []byte("x"), nil)
	require.Error(t, err)
}

func TestDetachWaitsForInFlight(t *testing.T) {
	p := New(Config{})
	defer p.CloseAll()

	s := newTestSocket(13)
	require.NoError(t, p.Attach(s))
	_, err := p.Submit(s, KindReceive, make([]byte, 10), nil)
	require.NoError(t, err)
	waitOutcome(t, s.announced)

	require.NoError(t, p.Detach(s.Handle()))
}

func TestCancelledOperationIsSilentThenDetachAnnouncesOnce(t *testing.T) {
	port := newHoldingStubPort()
	p := New(Config{Port: port})
	defer p.CloseAll()

	s := newTestSocket(14)
	require.NoError(t, p.Attach(s))

	tag, err := p.Submit(s, KindReceive, make([]byte, 10), nil)
	require.NoError(t, err)

	require.NoError(t, p.Cancellation(tag))

	select {
	case o := <-s.announced:
		t.Fatalf("cancellation must not announce, got %+v", o)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, p.Detach(s.Handle()))

	o := waitOutcome(t, s.announced)
	require.Equal(t, KindDetach, o.Kind)

	select {
	case o := <-s.announced:
		t.Fatalf("detach must announce exactly once, got a second %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

// A socket with no in-flight operations still gets its one detach
// announcement, on the synchronous fast path through Detach itself.
func TestDetachWithNoInFlightStillAnnounces(t *testing.T) {
	p := New(Config{})
	defer p.CloseAll()

	s := newTestSocket(15)
	require.NoError(t, p.Attach(s))

	require.NoError(t, p.Detach(s.Handle()))

	o := waitOutcome(t, s.announced)
	require.Equal(t, KindDetach, o.Kind)
}

func TestSubmitCallbackRuns(t *testing.T) {
	p := New(Config{})
	defer p.CloseAll()

	var called int32
	var wg sync.WaitGroup
	wg.Add(1)
	p.SubmitCallback(func() {
		atomic.StoreInt32(&called, 1)
		wg.Done()
	})
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&called))
}

func TestCloseAllStopsWaiter(t *testing.T) {
	p := New(Config{})
	require.NoError(t, p.CloseAll())
}

package machine

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kevinmarsh/ntcore"
)

func TestMachineBindAssignsEphemeralPort(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	s := mustOpen(t, m, ntcore.TransportUDPv4)
	require.NoError(t, s.Bind(ntcore.Endpoint{}))
	bound := s.Binding().Source
	require.True(t, bound.Port >= ntcore.EphemeralPortLow)
}

func TestMachineBindDuplicateEndpointFails(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	a := mustOpen(t, m, ntcore.TransportTCPv4)
	require.NoError(t, a.Bind(ntcore.Endpoint{Port: 51000}))

	b := mustOpen(t, m, ntcore.TransportTCPv4)
	err := b.Bind(ntcore.Endpoint{Port: 51000})
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeAddressInUse))
}

func TestMachineBindNonLoopbackHostFails(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	s := mustOpen(t, m, ntcore.TransportTCPv4)
	err := s.Bind(ntcore.NewIPEndpoint([]byte{8, 8, 8, 8}, 0))
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeInvalid))
}

func TestMachineBindAnonymousLocalEndpointsDoNotCollide(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	a := mustOpen(t, m, ntcore.TransportLocal)
	require.NoError(t, a.Bind(ntcore.NewLocalEndpoint("")))
	b := mustOpen(t, m, ntcore.TransportLocal)
	require.NoError(t, b.Bind(ntcore.NewLocalEndpoint("")))

	require.NotEqual(t, a.Binding().Source.Path, b.Binding().Source.Path)
	require.NotEmpty(t, a.Binding().Source.Path)
}

func TestMachineCloseReleasesHandleAndPort(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	s := mustOpen(t, m, ntcore.TransportTCPv4)
	require.NoError(t, s.Bind(ntcore.Endpoint{Port: 51100}))
	require.NoError(t, s.Close())

	_, ok := m.lookupByHandle(s.Handle())
	require.False(t, ok)

	// The same port and handle range must be reusable after release.
	s2 := mustOpen(t, m, ntcore.TransportTCPv4)
	require.NoError(t, s2.Bind(ntcore.Endpoint{Port: 51100}))
}

func TestMachineStepDeliversDatagramBetweenSessions(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	a := mustOpen(t, m, ntcore.TransportUDPv4)
	require.NoError(t, a.Bind(ntcore.Endpoint{}))
	b := mustOpen(t, m, ntcore.TransportUDPv4)
	require.NoError(t, b.Bind(ntcore.Endpoint{}))
	require.NoError(t, a.Connect(b.Binding().Source))

	_, err := a.Send([]byte("abc"), false)
	require.NoError(t, err)
	require.Equal(t, 0, b.incoming.Len())

	m.step()
	require.Equal(t, 1, b.incoming.Len())
}

func TestMachineStepBroadcastFansOutToMatchingPort(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	a := mustOpen(t, m, ntcore.TransportUDPv4)
	require.NoError(t, a.Bind(ntcore.Endpoint{Port: 52000}))
	b := mustOpen(t, m, ntcore.TransportUDPv4)
	require.NoError(t, b.Bind(ntcore.Endpoint{Port: 52000}))
	// A session bound to a different port must not receive the broadcast.
	c := mustOpen(t, m, ntcore.TransportUDPv4)
	require.NoError(t, c.Bind(ntcore.Endpoint{Port: 52001}))

	sender := mustOpen(t, m, ntcore.TransportUDPv4)
	opts := ntcore.DefaultSocketOptions()
	opts.Broadcast = true
	sender.options = opts
	require.NoError(t, sender.Bind(ntcore.Endpoint{}))
	require.NoError(t, sender.Connect(ntcore.NewIPEndpoint(net.IPv4bcast, 52000)))

	_, err := sender.Send([]byte("hi"), false)
	require.NoError(t, err)
	m.step()

	require.Equal(t, 1, a.incoming.Len())
	require.Equal(t, 1, b.incoming.Len())
	require.Equal(t, 0, c.incoming.Len())
}

func TestMachineSendBroadcastWithoutOptionFails(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	sender := mustOpen(t, m, ntcore.TransportUDPv4)
	require.NoError(t, sender.Bind(ntcore.Endpoint{}))
	require.NoError(t, sender.Connect(ntcore.NewIPEndpoint(net.IPv4bcast, 52000)))

	_, err := sender.Send([]byte("hi"), false)
	require.Error(t, err)
	require.True(t, ntcore.Is(err, ntcore.CodeInvalid))
}

func TestMachineStepRetriesStreamDeliveryWhenIncomingFull(t *testing.T) {
	m := New("test", nil)
	defer m.Close()

	listener := mustOpen(t, m, ntcore.TransportTCPv4)
	require.NoError(t, listener.Bind(ntcore.Endpoint{}))
	require.NoError(t, listener.Listen(4))
	addr := listener.Binding().Source

	client := mustOpen(t, m, ntcore.TransportTCPv4)
	require.NoError(t, client.Connect(addr))
	m.step()
	peer, ok := listener.Accept()
	require.True(t, ok)

	peer.incoming.Shutdown() // simulate the destination queue rejecting delivery

	_, err := client.Send([]byte("x"), false)
	require.NoError(t, err)
	m.step() // must not panic or drop the packet; RetryFront keeps it at the head

	require.Equal(t, 1, client.outgoing.Len())
}

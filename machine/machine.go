package machine

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmarsh/ntcore"
	"github.com/kevinmarsh/ntcore/internal/constants"
)

// Machine is the simulation root: it owns the handle space, the TCP and
// UDP port maps, every open session indexed by handle and by bound
// endpoint, a shared readiness Monitor, and a background step loop that
// moves packets from each session's outgoing queue to its peer's
// incoming queue (spec §4.6).
type Machine struct {
	Name string

	loopbackV4 net.IP
	loopbackV6 net.IP

	handles *ntcore.HandleAllocator
	tcpPorts *PortMap
	udpPorts *PortMap
	blobs    *blobPool
	monitor  *Monitor

	mu           sync.Mutex
	byHandle     map[ntcore.Handle]*Session
	byTCPLocal   map[string]*Session
	byUDPLocal   map[string]*Session
	byTCPBinding map[string]*Session
	byUDPBinding map[string]*Session

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	logger ntcore.Logger
}

// New creates a Machine and starts its background step loop.
func New(name string, logger ntcore.Logger) *Machine {
	if logger == nil {
		logger = ntcore.NoopLogger
	}
	m := &Machine{
		Name:         name,
		loopbackV4:   net.IPv4(127, 0, 0, 1),
		loopbackV6:   net.IPv6loopback,
		handles:      ntcore.NewHandleAllocator(),
		tcpPorts:     NewPortMap(),
		udpPorts:     NewPortMap(),
		blobs:        newBlobPool(),
		monitor:      NewMonitor(),
		byHandle:     make(map[ntcore.Handle]*Session),
		byTCPLocal:   make(map[string]*Session),
		byUDPLocal:   make(map[string]*Session),
		byTCPBinding: make(map[string]*Session),
		byUDPBinding: make(map[string]*Session),
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		logger:       logger,
	}
	go m.stepLoop()
	return m
}

// Monitor exposes the machine's shared readiness monitor.
func (m *Machine) Monitor() *Monitor { return m.monitor }

// LoopbackAddress returns the loopback host for a family, the only
// address the simulation machine accepts for Bind (spec §4.6: the bind
// host must match a local address).
func (m *Machine) LoopbackAddress(family ntcore.Family) net.IP {
	if family == ntcore.FamilyIPv6 {
		return m.loopbackV6
	}
	return m.loopbackV4
}

// Open allocates a handle and creates a fresh session for the given
// transport.
func (m *Machine) Open(transport ntcore.Transport, opts ntcore.SocketOptions) (*Session, error) {
	h, err := m.handles.Acquire()
	if err != nil {
		return nil, ntcore.Wrap("Machine.Open", err)
	}
	s := newSession(m, h, transport, opts)

	m.mu.Lock()
	m.byHandle[h] = s
	m.mu.Unlock()
	return s, nil
}

// newPeerSession creates the machine-side session representing one
// accepted connection. It shares the listener's source endpoint and
// port rather than allocating its own, so it must never release that
// port on close (see ownsPort).
func (m *Machine) newPeerSession(transport ntcore.Transport, opts ntcore.SocketOptions, source ntcore.Endpoint) *Session {
	s, err := m.Open(transport, opts)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	s.binding.Source = source
	s.state = StateBound
	s.ownsPort = false
	s.mu.Unlock()
	return s
}

func (m *Machine) lookupByHandle(h ntcore.Handle) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHandle[h]
	return s, ok
}

func (m *Machine) lookupListener(transport ntcore.Transport, endpoint ntcore.Endpoint) (*Session, bool) {
	key := endpointKey(endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	var s *Session
	var ok bool
	if transport.Kind == ntcore.KindStream {
		s, ok = m.byTCPLocal[key]
	} else {
		s, ok = m.byUDPLocal[key]
	}
	if !ok {
		return nil, false
	}
	if transport.Kind == ntcore.KindStream && s.State() != StateListening {
		return nil, false
	}
	return s, true
}

func (m *Machine) lookupBySource(transport ntcore.Transport, endpoint ntcore.Endpoint) (*Session, bool) {
	key := endpointKey(endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	if transport.Kind == ntcore.KindStream {
		s, ok := m.byTCPLocal[key]
		return s, ok
	}
	s, ok := m.byUDPLocal[key]
	return s, ok
}

func endpointKey(e ntcore.Endpoint) string {
	if e.Family == ntcore.FamilyLocal {
		return "local:" + e.Path
	}
	return fmt.Sprintf("%d:%s:%d", e.Family, e.IP.String(), e.Port)
}

func bindingKey(b ntcore.Binding) string {
	return endpointKey(b.Source) + ">" + endpointKey(b.Remote)
}

// registerBinding indexes s by its exact (source, remote) pair, the only
// way to distinguish accepted stream peers that all share the listener's
// source endpoint (spec §3: three indices keyed by (source, remote)).
func (m *Machine) registerBinding(s *Session) {
	key := bindingKey(s.Binding())
	m.mu.Lock()
	if s.transport.Kind == ntcore.KindStream {
		m.byTCPBinding[key] = s
	} else {
		m.byUDPBinding[key] = s
	}
	m.mu.Unlock()
}

func (m *Machine) unregisterBinding(s *Session) {
	key := bindingKey(s.Binding())
	m.mu.Lock()
	if s.transport.Kind == ntcore.KindStream {
		if cur, ok := m.byTCPBinding[key]; ok && cur == s {
			delete(m.byTCPBinding, key)
		}
	} else {
		if cur, ok := m.byUDPBinding[key]; ok && cur == s {
			delete(m.byUDPBinding, key)
		}
	}
	m.mu.Unlock()
}

// lookupByBinding finds the session whose own binding is the exact
// mirror of a packet's (remote, source): Source == b.Source and
// Remote == b.Remote. Used to route between specific accepted stream
// peers that share a listener's source endpoint.
func (m *Machine) lookupByBinding(transport ntcore.Transport, b ntcore.Binding) (*Session, bool) {
	key := bindingKey(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	if transport.Kind == ntcore.KindStream {
		s, ok := m.byTCPBinding[key]
		return s, ok
	}
	s, ok := m.byUDPBinding[key]
	return s, ok
}

// bindEndpoint validates and reserves local for s, allocating an
// ephemeral port when local carries none, and indexes s by its bound
// endpoint. The host must match one of the machine's loopback
// addresses, or be unspecified, per spec §4.6.
func (m *Machine) bindEndpoint(s *Session, local ntcore.Endpoint) (ntcore.Endpoint, error) {
	family := local.Family
	if family == ntcore.FamilyUndefined {
		family = ntcore.FamilyIPv4
	}
	ip := local.IP
	if family != ntcore.FamilyLocal {
		if ip == nil {
			ip = m.LoopbackAddress(family)
		} else if !ip.Equal(m.loopbackV4) && !ip.Equal(m.loopbackV6) {
			return ntcore.Endpoint{}, ntcore.NewWithHandle("Machine.Bind", int(s.handle), ntcore.CodeInvalid, "bind host is not a local address")
		}
	}

	var endpoint ntcore.Endpoint
	var ports *PortMap
	var port uint16
	if family == ntcore.FamilyLocal {
		path := local.Path
		if path == "" {
			// An anonymous Unix-domain bind, the filesystem-path analogue
			// of an ephemeral port: generate a name no other session on
			// this machine can collide with.
			path = "@ntcore-" + uuid.NewString()
		}
		endpoint = ntcore.NewLocalEndpoint(path)
	} else {
		ports = m.udpPorts
		if s.transport.Kind == ntcore.KindStream {
			ports = m.tcpPorts
		}

		port = local.Port
		if port == 0 {
			p, err := ports.Allocate()
			if err != nil {
				return ntcore.Endpoint{}, ntcore.Wrap("Machine.Bind", err)
			}
			port = p
		} else if err := ports.Reserve(port); err != nil {
			return ntcore.Endpoint{}, ntcore.Wrap("Machine.Bind", err)
		}
		endpoint = ntcore.Endpoint{Family: family, IP: ip, Port: port}
	}

	key := endpointKey(endpoint)
	m.mu.Lock()
	index := m.byUDPLocal
	if s.transport.Kind == ntcore.KindStream {
		index = m.byTCPLocal
	}
	if _, exists := index[key]; exists {
		m.mu.Unlock()
		if ports != nil {
			ports.Release(port)
		}
		return ntcore.Endpoint{}, ntcore.NewWithHandle("Machine.Bind", int(s.handle), ntcore.CodeAddressInUse, "endpoint already bound")
	}
	index[key] = s
	m.mu.Unlock()

	return endpoint, nil
}

// releaseSession removes a closed session from every index and frees
// its handle and bound port.
func (m *Machine) releaseSession(s *Session) {
	binding := s.Binding()
	key := endpointKey(binding.Source)

	m.mu.Lock()
	delete(m.byHandle, s.handle)
	if s.transport.Kind == ntcore.KindStream {
		if cur, ok := m.byTCPLocal[key]; ok && cur == s {
			delete(m.byTCPLocal, key)
		}
	} else {
		if cur, ok := m.byUDPLocal[key]; ok && cur == s {
			delete(m.byUDPLocal, key)
		}
	}
	m.mu.Unlock()

	if s.ownsPort && binding.Source.Port != 0 {
		if s.transport.Kind == ntcore.KindStream {
			m.tcpPorts.Release(binding.Source.Port)
		} else {
			m.udpPorts.Release(binding.Source.Port)
		}
	}
	m.handles.Release(s.handle)
}

func (m *Machine) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// Close stops the step loop and closes every open session.
func (m *Machine) Close() error {
	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byHandle))
	for _, s := range m.byHandle {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

// stepLoop is the background routing thread: each tick it drains every
// session's outgoing queue packet by packet, resolving each packet's
// destination through the endpoint index and delivering it to the
// destination's incoming queue, per spec §4.6.
func (m *Machine) stepLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(constants.StepIdleBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.wakeCh:
		case <-ticker.C:
		}
		m.step()
	}
}

// step runs one delivery pass over every session. It is unexported, but
// the package's tests call it directly to drive delivery without
// waiting on the ticker.
func (m *Machine) step() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byHandle))
	for _, s := range m.byHandle {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.drainSession(s)
	}
}

// resolveDestination finds the packet's destination session: the weak
// peer reference cached at send time first (spec §4.6's fast path),
// then the exact (source,remote) binding index for stream peers that
// share a listener's source endpoint, falling back to the plain source
// index for listeners and unconnected datagram sockets.
func (m *Machine) resolveDestination(p *Packet) (*Session, bool) {
	if dest, ok := p.remoteRef.resolve(); ok {
		return dest, true
	}
	if p.Transport.Kind == ntcore.KindStream {
		if dest, ok := m.lookupByBinding(p.Transport, ntcore.Binding{Source: p.Remote, Remote: p.Source}); ok {
			return dest, true
		}
	}
	return m.lookupBySource(p.Transport, p.Remote)
}

// isBroadcast reports whether e is the IPv4 limited-broadcast address
// 255.255.255.255 (spec §4.6a: a datagram sent to it fans out to every
// UDP session bound to the matching port rather than one destination).
func isBroadcast(e ntcore.Endpoint) bool {
	return e.Family == ntcore.FamilyIPv4 && e.IP.Equal(net.IPv4bcast)
}

// deliverBroadcast fans p out to every UDP session of p's transport
// bound to p.Remote's port, best-effort: a full or closed destination
// queue is skipped rather than retried, since no single receiver may
// block delivery to the others.
func (m *Machine) deliverBroadcast(p *Packet) {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.byUDPLocal))
	for _, s := range m.byUDPLocal {
		if s.transport == p.Transport {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	delivered := false
	for _, dest := range targets {
		binding := dest.Binding()
		if binding.Source.Port != p.Remote.Port {
			continue
		}
		cp := *p
		cp.Payload = append([]byte(nil), p.Payload...)
		if dest.incoming.Enqueue(&cp, false) == nil {
			delivered = true
		}
	}
	if !delivered {
		m.blobs.put(p.Payload)
	}
}

func (m *Machine) drainSession(s *Session) {
	for i := 0; i < constants.MaxPacketsPerStep; i++ {
		p, err := s.outgoing.Dequeue(false)
		if err != nil {
			return
		}

		if p.Transport.Kind == ntcore.KindDatagram && isBroadcast(p.Remote) {
			m.deliverBroadcast(p)
			continue
		}

		dest, ok := m.resolveDestination(p)
		if !ok {
			if p.Transport.Kind == ntcore.KindStream {
				s.outgoing.RetryFront(p)
				return
			}
			m.blobs.put(p.Payload)
			continue
		}

		if enqErr := dest.incoming.Enqueue(p, false); enqErr != nil {
			if p.Transport.Kind == ntcore.KindStream {
				s.outgoing.RetryFront(p)
				return
			}
			m.blobs.put(p.Payload)
			continue
		}

		if p.TimestampID != 0 {
			if src, ok := p.sourceRef.resolve(); ok {
				_ = src.notifications.Enqueue(newNotification(PacketSent, p.TimestampID), false)
			}
		}
	}
}
